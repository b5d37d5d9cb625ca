package version

import (
	"fmt"
	"runtime"
)

// Overridden at build time with -ldflags "-X geoipd/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

// Info is the build metadata served on /version.
type Info struct {
	BuildVersion string `json:"buildVersion"`
	BuiltAt      string `json:"builtAt"`
	GoVersion    string `json:"goVersion"`
}

func Get() Info {
	return Info{
		BuildVersion: buildVersion,
		BuiltAt:      builtAt,
		GoVersion:    runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s (built %s, %s)", i.BuildVersion, i.BuiltAt, i.GoVersion)
}
