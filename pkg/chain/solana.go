// Package chain reads on-chain balances. Only the Solana token account
// balance is needed: the treasury compares it with its booked reserve.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bizops-incentives/pkg/config"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/fx"
)

var Module = fx.Module("chain", fx.Provide(ProvideBalanceReader))

type BalanceReader interface {
	TokenBalance(ctx context.Context, account string) (decimal.Decimal, error)
}

type SolanaClient struct {
	rpcURL string
	http   *http.Client
}

func NewSolanaClient(rpcURL string, timeout time.Duration) *SolanaClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SolanaClient{rpcURL: rpcURL, http: &http.Client{Timeout: timeout}}
}

// ProvideBalanceReader returns nil when SOLANA.RPC_URL is unset.
func ProvideBalanceReader(cfg *config.Config) BalanceReader {
	if cfg.Solana.RPCURL == "" {
		return nil
	}
	return NewSolanaClient(cfg.Solana.RPCURL, cfg.Solana.Timeout)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

func (c *SolanaClient) TokenBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTokenAccountBalance",
		Params:  []any{account, map[string]string{"commitment": "confirmed"}},
	})
	if err != nil {
		return decimal.Zero, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("solana rpc returned %d", resp.StatusCode)
	}

	if msg := gjson.GetBytes(raw, "error.message"); msg.Exists() {
		return decimal.Zero, fmt.Errorf("solana rpc: %s", msg.String())
	}

	amount := gjson.GetBytes(raw, "result.value.uiAmountString")
	if !amount.Exists() {
		return decimal.Zero, fmt.Errorf("solana rpc: missing result.value.uiAmountString")
	}

	return decimal.NewFromString(amount.String())
}
