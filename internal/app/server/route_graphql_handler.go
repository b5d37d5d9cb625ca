package server

import (
	"net/http"

	gqlhandler "github.com/graphql-go/handler"

	gqlschema "geoipd/internal/graphql"
	"geoipd/internal/metrics"
)

func newGraphQLHandler(locator gqlschema.Locator) (http.Handler, error) {
	schema, err := gqlschema.NewSchema(locator, func(outcome string) {
		metrics.ObserveLookup("graphql", outcome)
	})
	if err != nil {
		return nil, err
	}

	base := gqlhandler.New(&gqlhandler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: false,
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := gqlschema.WithClientIP(r.Context(), clientIP(r))
		base.ContextHandler(ctx, w, r)
	}), nil
}
