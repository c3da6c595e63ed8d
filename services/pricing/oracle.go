package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/rediskey"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const tokenSymbol = "token"

var Module = fx.Module("pricing",
	fx.Provide(NewOracle, func(o *Oracle) Quoter { return o }),
)

var fallbackQuotes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pricing_fallback_quotes_total",
	Help: "Quotes served from the configured fallback price.",
})

// Quote is the token price in USD. Fallback quotes come from configuration
// rather than the oracle and are lower trust.
type Quote struct {
	Price     decimal.Decimal `json:"price"`
	Fallback  bool            `json:"fallback"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type Quoter interface {
	Quote(ctx context.Context) (Quote, error)
}

type Oracle struct {
	url      string
	path     string
	ttl      time.Duration
	fallback decimal.Decimal

	http  *http.Client
	rdb   *redis.Client
	group singleflight.Group

	mu     sync.RWMutex
	cached *Quote
	now    func() time.Time
}

type Params struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewOracle(p Params) *Oracle {
	c := p.Config.Pricing
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Oracle{
		url:      c.URL,
		path:     c.Path,
		ttl:      c.CacheTTL,
		fallback: decimal.NewFromFloat(c.FallbackPrice),
		http:     &http.Client{Timeout: timeout},
		rdb:      p.Redis,
		now:      time.Now,
	}
}

// Quote returns the current price. Fresh quotes are cached locally and in
// redis for the configured TTL; concurrent misses share one upstream call.
// When the oracle is unreachable the fallback price is served and marked.
func (o *Oracle) Quote(ctx context.Context) (Quote, error) {
	if q, ok := o.local(); ok {
		return q, nil
	}

	v, err, _ := o.group.Do(tokenSymbol, func() (any, error) {
		if q, ok := o.remote(ctx); ok {
			o.store(ctx, q, false)
			return q, nil
		}

		q, err := o.fetch(ctx)
		if err != nil {
			return nil, err
		}
		o.store(ctx, q, true)
		return q, nil
	})
	if err == nil {
		return v.(Quote), nil
	}

	logger.FromContext(ctx).Warn("price oracle unavailable, serving fallback price", zap.Error(err))
	if !o.fallback.IsPositive() {
		return Quote{}, errutil.BadGateway("token price unavailable", err)
	}

	fallbackQuotes.Inc()
	return Quote{Price: o.fallback, Fallback: true, FetchedAt: o.now()}, nil
}

func (o *Oracle) local() (Quote, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.cached == nil || o.now().Sub(o.cached.FetchedAt) >= o.ttl {
		return Quote{}, false
	}
	return *o.cached, true
}

func (o *Oracle) remote(ctx context.Context) (Quote, bool) {
	if o.rdb == nil || o.ttl <= 0 {
		return Quote{}, false
	}

	s, err := o.rdb.Get(ctx, rediskey.BuildPriceKey(tokenSymbol)).Result()
	if err != nil {
		return Quote{}, false
	}

	price, err := decimal.NewFromString(s)
	if err != nil || !price.IsPositive() {
		return Quote{}, false
	}
	return Quote{Price: price, FetchedAt: o.now()}, true
}

func (o *Oracle) store(ctx context.Context, q Quote, shared bool) {
	if o.ttl <= 0 {
		return
	}

	o.mu.Lock()
	o.cached = &q
	o.mu.Unlock()

	if shared && o.rdb != nil {
		if err := o.rdb.Set(ctx, rediskey.BuildPriceKey(tokenSymbol), q.Price.String(), o.ttl).Err(); err != nil {
			logger.FromContext(ctx).Warn("failed to cache token price", zap.Error(err))
		}
	}
}

func (o *Oracle) fetch(ctx context.Context) (Quote, error) {
	if o.url == "" {
		return Quote{}, fmt.Errorf("pricing url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Quote{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price oracle returned %d", resp.StatusCode)
	}

	res := gjson.GetBytes(body, o.path)
	if !res.Exists() {
		return Quote{}, fmt.Errorf("price oracle response missing %q", o.path)
	}

	price, err := decimal.NewFromString(res.String())
	if err != nil {
		return Quote{}, fmt.Errorf("price oracle returned %q: %w", res.String(), err)
	}
	if !price.IsPositive() {
		return Quote{}, fmt.Errorf("price oracle returned non-positive price %s", price)
	}

	return Quote{Price: price, FetchedAt: o.now()}, nil
}

// Static always quotes the same price. Used in tests and by the worker.
type Static decimal.Decimal

func (s Static) Quote(context.Context) (Quote, error) {
	return Quote{Price: decimal.Decimal(s), FetchedAt: time.Now()}, nil
}
