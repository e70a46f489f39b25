package news

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultTTL = time.Hour

// Clock lets tests drive the TTL without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

// Cache is a TTL-bounded article cache in front of a Provider. A fetch
// within the TTL serves the cached list. When the provider fails the
// last good list is served; with nothing cached the result is an empty
// list, never an error.
type Cache struct {
	provider Provider
	ttl      time.Duration
	clock    Clock
	log      zerolog.Logger

	mu        sync.RWMutex
	articles  []Article
	fetchedAt time.Time
}

func NewCache(provider Provider, ttl time.Duration, clock Clock, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		clock:    clock,
		log:      log.With().Str("component", "news").Logger(),
	}
}

// Articles returns the cached feed, refreshing it when the TTL has
// lapsed.
func (c *Cache) Articles(ctx context.Context) []Article {
	c.mu.RLock()
	fresh := !c.fetchedAt.IsZero() && c.clock.Now().Sub(c.fetchedAt) <= c.ttl
	cached := c.articles
	c.mu.RUnlock()

	if fresh {
		return cached
	}

	if c.provider == nil {
		return nil
	}

	fetched, err := c.provider.Fetch(ctx)
	if err != nil {
		c.log.Warn().Err(err).Int("cached", len(cached)).Msg("news fetch failed, serving cached")
		return cached
	}

	// Normalise timestamps to UTC at the boundary.
	for i := range fetched {
		fetched[i].PublishedAt = fetched[i].PublishedAt.UTC()
	}

	c.mu.Lock()
	c.articles = fetched
	c.fetchedAt = c.clock.Now()
	c.mu.Unlock()

	c.log.Debug().Int("articles", len(fetched)).Msg("news cache refreshed")
	return fetched
}

// ForTicker returns cached articles tagged with the base asset of the
// given trading pair (e.g. BTCUSDT matches articles tagging BTC).
func (c *Cache) ForTicker(ctx context.Context, symbol string) []Article {
	base := strings.TrimSuffix(strings.ToUpper(symbol), "USDT")

	var out []Article
	for _, a := range c.Articles(ctx) {
		for _, t := range a.Tickers {
			if strings.EqualFold(t, base) || strings.EqualFold(t, symbol) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}
