package chain

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestTokenBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "getTokenAccountBalance", gjson.GetBytes(body, "method").String())
		require.Equal(t, "Reserve111", gjson.GetBytes(body, "params.0").String())

		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":1},"value":{"amount":"125000000000","decimals":9,"uiAmountString":"125"}}}`))
	}))
	defer srv.Close()

	c := NewSolanaClient(srv.URL, time.Second)
	bal, err := c.TokenBalance(context.Background(), "Reserve111")
	require.NoError(t, err)
	require.Equal(t, "125", bal.String())
}

func TestTokenBalanceRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"Invalid param: could not find account"}}`))
	}))
	defer srv.Close()

	_, err := NewSolanaClient(srv.URL, time.Second).TokenBalance(context.Background(), "missing")
	require.ErrorContains(t, err, "could not find account")
}
