package treasury

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"strconv"
	"time"

	"bizops-incentives/pkg/db/option"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/money"

	"go.uber.org/zap"
)

type Statement struct {
	Location string    `json:"location"`
	Rows     int       `json:"rows"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

var statementHeader = []string{
	"id", "sequence", "created_at", "transaction_type", "amount", "token_amount",
	"balance_after", "token_reserve_after", "related_entity_type",
	"related_entity_id", "description", "hash",
}

// RenderStatement writes entries as CSV in the canonical decimal forms.
func RenderStatement(entries []*ReserveTransaction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(statementHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Write([]string{
			e.ID.String(),
			strconv.FormatInt(e.Sequence, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			string(e.TransactionType),
			money.USDString(e.Amount),
			money.TokenString(e.TokenAmount),
			money.USDString(e.BalanceAfter),
			money.TokenString(e.TokenReserveAfter),
			e.RelatedEntityType,
			e.RelatedEntityID,
			e.Description,
			e.Hash,
		}); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportStatement uploads the reserve transactions created in [from, to) as a
// CSV object.
func (s *Service) ExportStatement(ctx context.Context, from, to time.Time) (*Statement, error) {
	if s.store == nil {
		return nil, errutil.ServiceUnavailable("statement storage is not configured", nil)
	}
	if !to.After(from) {
		return nil, errutil.BadRequest("statement range is empty", nil, errutil.WithDetail("to", "must be after from"))
	}

	acc, err := s.account(ctx)
	if err != nil {
		return nil, err
	}

	var entries []*ReserveTransaction
	if acc.ID != 0 {
		entries, err = s.entries.Find(ctx, &ReserveTransaction{TreasuryAccountID: acc.ID},
			option.ApplyOperator(
				option.Condition{Field: "created_at", Operator: option.GTE, Value: from.UTC()},
				option.Condition{Field: "created_at", Operator: option.LT, Value: to.UTC()},
			),
			option.WithSortBy(option.QuerySortBy{SortBy: "sequence", OrderBy: "asc"}),
		)
		if err != nil {
			return nil, err
		}
	}

	body, err := RenderStatement(entries)
	if err != nil {
		return nil, err
	}

	key := path.Join(s.statementDir, s.key, fmt.Sprintf("%s_%s.csv", from.UTC().Format("20060102T150405Z"), to.UTC().Format("20060102T150405Z")))
	loc, err := s.store.Put(ctx, key, "text/csv", body)
	if err != nil {
		logger.FromContext(ctx).Error("failed to upload treasury statement", zap.String("key", key), zap.Error(err))
		return nil, errutil.BadGateway("failed to upload statement", err)
	}

	return &Statement{Location: loc, Rows: len(entries), From: from.UTC(), To: to.UTC()}, nil
}
