package geolite

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"geoipd/internal/domain"
)

// Resolver finds the record for a numeric IPv4 address. *database.Store and
// *MMDBResolver implement it.
type Resolver interface {
	LookupIP(ctx context.Context, ip uint32, lang string) (*domain.GeoIP, error)
}

// Locator parses textual addresses and caches resolver answers. Cached values
// are shared between callers and must not be modified.
type Locator struct {
	resolver Resolver
	cache    *lru.Cache
	group    singleflight.Group

	// generation counts purges. An answer resolved before a purge is never
	// cached after it.
	mu         sync.Mutex
	generation uint64
}

// NewLocator wraps resolver. cacheSize <= 0 disables caching.
func NewLocator(resolver Resolver, cacheSize int) (*Locator, error) {
	locator := &Locator{resolver: resolver}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("geolite: lookup cache: %w", err)
		}
		locator.cache = cache
	}
	return locator, nil
}

// Lookup resolves a dotted-decimal IPv4 address. Invalid input returns
// ErrInvalidIP; an uncovered address returns database.ErrNotFound.
// Concurrent lookups of the same key share one resolver call, which outlives
// the cancellation of any single caller.
func (l *Locator) Lookup(ctx context.Context, ip string, lang string) (*domain.GeoIP, error) {
	numeric, err := ParseIPv4(ip)
	if err != nil {
		return nil, err
	}
	lang = strings.TrimSpace(lang)

	key := fmt.Sprintf("%d|%s", numeric, lang)
	if l.cache != nil {
		if cached, ok := l.cache.Get(key); ok {
			return cached.(*domain.GeoIP), nil
		}
	}

	generation := l.currentGeneration()
	shared := context.WithoutCancel(ctx)
	results := l.group.DoChan(fmt.Sprintf("%d|%s", generation, key), func() (interface{}, error) {
		result, err := l.resolver.LookupIP(shared, numeric, lang)
		if err != nil {
			return nil, err
		}
		result.IP = Uint32ToIPv4(numeric).String()
		l.remember(generation, key, result)
		return result, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.GeoIP), nil
	}
}

func (l *Locator) currentGeneration() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

func (l *Locator) remember(generation uint64, key string, result *domain.GeoIP) {
	if l.cache == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.generation == generation {
		l.cache.Add(key, result)
	}
}

// Purge drops every cached answer. It runs after each reload.
func (l *Locator) Purge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	if l.cache != nil {
		l.cache.Purge()
	}
}

func (l *Locator) Len() int {
	if l.cache == nil {
		return 0
	}
	return l.cache.Len()
}
