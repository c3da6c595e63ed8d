package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/errutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestOracle(url string, fallback float64) *Oracle {
	cfg := &config.Config{}
	cfg.Pricing.URL = url
	cfg.Pricing.Path = "data.price"
	cfg.Pricing.FallbackPrice = fallback
	cfg.Pricing.CacheTTL = time.Minute
	cfg.Pricing.Timeout = time.Second
	return NewOracle(Params{Config: cfg})
}

func TestQuoteFetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"data":{"symbol":"TOKEN","price":"0.0125"}}`))
	}))
	defer srv.Close()

	o := newTestOracle(srv.URL, 0.01)

	q, err := o.Quote(context.Background())
	require.NoError(t, err)
	require.False(t, q.Fallback)
	require.True(t, q.Price.Equal(decimal.RequireFromString("0.0125")))

	_, err = o.Quote(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())
}

func TestQuoteFallsBackWhenOracleDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q, err := newTestOracle(srv.URL, 0.01).Quote(context.Background())
	require.NoError(t, err)
	require.True(t, q.Fallback)
	require.True(t, q.Price.Equal(decimal.RequireFromString("0.01")))
}

func TestQuoteRejectsMalformedPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"price":"-3"}}`))
	}))
	defer srv.Close()

	_, err := newTestOracle(srv.URL, 0).Quote(context.Background())
	require.Error(t, err)
	require.Equal(t, errutil.StatusBadGateway, errutil.StatusOf(err))
}

func TestStatic(t *testing.T) {
	q, err := Static(decimal.NewFromInt(2)).Quote(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2", q.Price.String())
}
