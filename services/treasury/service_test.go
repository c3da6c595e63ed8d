package treasury

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db/pagination"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/services/pricing"
	"bizops-incentives/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type quoterMock struct {
	quote pricing.Quote
	err   error
}

func (m quoterMock) Quote(context.Context) (pricing.Quote, error) { return m.quote, m.err }

type chainMock struct {
	balance decimal.Decimal
	err     error
}

func (m chainMock) TokenBalance(context.Context, string) (decimal.Decimal, error) {
	return m.balance, m.err
}

type storeMock struct {
	key  string
	body []byte
}

func (m *storeMock) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	m.key, m.body = key, body
	return "statements/" + key, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t)
	testutil.Migrate(t, db, Migrate)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Treasury = config.Treasury{Key: "primary", WarningRatio: 0.75, CriticalRatio: 0.9}
	cfg.Solana.ReserveAccount = "reserve-ata"

	svc := NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Config: cfg,
		Quoter: pricing.Static(d("0.5")),
	})
	return svc, db
}

func fund(t *testing.T, svc *Service, amount, price string) *FundingDeposit {
	t.Helper()
	dep, err := svc.Deposit(context.Background(), DepositRequest{
		Amount:     d(amount),
		TokenPrice: d(price),
		Method:     "bank_transfer",
	})
	require.NoError(t, err)
	return dep
}

func TestDepositBuysTokensAtPrice(t *testing.T) {
	svc, _ := newTestService(t)

	dep := fund(t, svc, "1000", "0.5")
	require.True(t, d("2000").Equal(dep.TokensPurchased))
	require.NotEmpty(t, dep.Code)

	acc, err := svc.account(context.Background())
	require.NoError(t, err)
	require.True(t, d("1000").Equal(acc.TotalFunding))
	require.True(t, d("1000").Equal(acc.AvailableFunding))
	require.True(t, d("2000").Equal(acc.TokenReserve))
	require.EqualValues(t, 1, acc.Version)
}

func TestDepositValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, DepositRequest{Amount: d("-5"), TokenPrice: d("1"), Method: "card"})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = svc.Deposit(ctx, DepositRequest{Amount: d("5"), TokenPrice: d("1")})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}

func TestDepositRefusesFallbackPrice(t *testing.T) {
	svc, _ := newTestService(t)
	svc.quoter = quoterMock{quote: pricing.Quote{Price: d("0.01"), Fallback: true}}

	_, err := svc.Deposit(context.Background(), DepositRequest{Amount: d("100"), Method: "card"})
	require.Equal(t, errutil.StatusServiceUnavailable, errutil.StatusOf(err))

	svc.quoter = quoterMock{quote: pricing.Quote{Price: d("0.25")}}
	dep, err := svc.Deposit(context.Background(), DepositRequest{Amount: d("100"), Method: "card"})
	require.NoError(t, err)
	require.True(t, d("400").Equal(dep.TokensPurchased))
}

func TestDistributeRejectedWhenReserveShort(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "1000", "1")

	before, err := svc.account(ctx)
	require.NoError(t, err)

	_, err = svc.Distribute(ctx, DistributeParams{
		TokenAmount:       d("1500"),
		CashValue:         d("15"),
		RelatedEntityType: "reward",
		RelatedEntityID:   "r-1",
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInsufficientFunds))
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))

	after, err := svc.account(ctx)
	require.NoError(t, err)
	require.True(t, d("1000").Equal(after.TokenReserve))
	require.True(t, before.AvailableFunding.Equal(after.AvailableFunding))
	require.True(t, before.TotalDistributed.Equal(after.TotalDistributed))
	require.Equal(t, before.Version, after.Version)

	var count int64
	require.NoError(t, db.Model(&ReserveTransaction{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	_, err = svc.Distribute(ctx, DistributeParams{TokenAmount: d("10"), CashValue: d("1500")})
	require.True(t, errors.Is(err, ErrInsufficientFunds))
}

func TestDistributeMovesBalances(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "1000", "0.5")

	entry, err := svc.Distribute(ctx, DistributeParams{
		TokenAmount:       d("144"),
		CashValue:         d("72"),
		RelatedEntityType: "mining_session",
		RelatedEntityID:   "s-1",
	})
	require.NoError(t, err)
	require.True(t, d("-144").Equal(entry.TokenAmount))
	require.True(t, d("-72").Equal(entry.Amount))
	require.True(t, d("1856").Equal(entry.TokenReserveAfter))

	acc, err := svc.account(ctx)
	require.NoError(t, err)
	require.True(t, d("72").Equal(acc.TotalDistributed))
	require.True(t, d("928").Equal(acc.AvailableFunding))
	require.True(t, acc.AvailableFunding.Equal(acc.TotalFunding.Sub(acc.TotalDistributed)))
}

func TestVersionGuardRejectsStaleLedger(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "100", "1")

	err := svc.Within(ctx, func(l *Ledger) error {
		if err := l.tx.Model(&TreasuryAccount{}).Where("id = ?", l.account.ID).
			Update("version", gorm.Expr("version + 1")).Error; err != nil {
			return err
		}
		_, err := l.Distribute(ctx, DistributeParams{TokenAmount: d("1"), CashValue: d("1")})
		return err
	})
	require.True(t, errors.Is(err, ErrConcurrentUpdate))
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))

	acc, err := svc.account(ctx)
	require.NoError(t, err)
	require.True(t, d("100").Equal(acc.TokenReserve))
}

func TestRefundAndAdjust(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "100", "1")

	_, err := svc.Distribute(ctx, DistributeParams{TokenAmount: d("40"), CashValue: d("40")})
	require.NoError(t, err)

	_, err = svc.Refund(ctx, DistributeParams{TokenAmount: d("10"), CashValue: d("50")})
	require.Equal(t, errutil.StatusUnprocessableEntity, errutil.StatusOf(err))

	_, err = svc.Refund(ctx, DistributeParams{TokenAmount: d("10"), CashValue: d("10")})
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, AdjustParams{TokenDelta: d("-5")})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, err = svc.Adjust(ctx, AdjustParams{TokenDelta: d("-500"), Reason: "write off"})
	require.True(t, errors.Is(err, ErrInsufficientFunds))

	_, err = svc.Adjust(ctx, AdjustParams{AmountDelta: d("5"), TokenDelta: d("-5"), Reason: "bank fee correction"})
	require.NoError(t, err)

	acc, err := svc.account(ctx)
	require.NoError(t, err)
	require.True(t, d("105").Equal(acc.TotalFunding))
	require.True(t, d("30").Equal(acc.TotalDistributed))
	require.True(t, d("75").Equal(acc.AvailableFunding))
	require.True(t, d("65").Equal(acc.TokenReserve))
}

func TestReplayMatchesHeader(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	fund(t, svc, "500", "0.5")
	fund(t, svc, "250", "0.25")
	for i := 0; i < 3; i++ {
		_, err := svc.Distribute(ctx, DistributeParams{TokenAmount: d("100"), CashValue: d("12.5"), RelatedEntityType: "reward"})
		require.NoError(t, err)
	}
	_, err := svc.Refund(ctx, DistributeParams{TokenAmount: d("100"), CashValue: d("12.5")})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, AdjustParams{TokenDelta: d("7"), Reason: "airdrop return"})
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.True(t, report.Consistent, "drift: %+v", report.Drift)
	require.Equal(t, 7, report.Entries)

	chain, err := svc.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, chain.Valid)
	require.Equal(t, 7, chain.Checked)

	require.NoError(t, db.Model(&TreasuryAccount{}).Where("account_key = ?", "primary").
		Update("token_reserve", d("1")).Error)

	report, err = svc.Reconcile(ctx)
	require.NoError(t, err)
	require.False(t, report.Consistent)
	require.Equal(t, "token_reserve", report.Drift[0].Field)
}

func TestChainOrderSurvivesSkewedNodes(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "1000", "1")

	// A node whose clock runs an hour behind issues lower ids for later writes.
	epoch := snowflake.Epoch
	snowflake.Epoch = epoch + time.Hour.Milliseconds()
	lagging, err := snowflake.NewNode(2)
	snowflake.Epoch = epoch
	require.NoError(t, err)

	other := NewService(ServiceParams{
		DB:     db,
		Node:   lagging,
		Config: &config.Config{Treasury: config.Treasury{Key: "primary"}},
		Quoter: pricing.Static(d("0.5")),
	})

	for i := 0; i < 200; i++ {
		s := svc
		if i%2 == 1 {
			s = other
		}
		_, err := s.Distribute(ctx, DistributeParams{TokenAmount: d("1"), CashValue: d("1"), RelatedEntityType: "reward"})
		require.NoError(t, err)
	}

	var entries []ReserveTransaction
	require.NoError(t, db.Order("sequence asc").Find(&entries).Error)
	require.Len(t, entries, 201)
	prev := GenesisHash
	for i, e := range entries {
		require.Equal(t, int64(i+1), e.Sequence)
		require.Equal(t, prev, e.PreviousHash)
		prev = e.Hash
	}
	require.Less(t, entries[2].ID.Int64(), entries[1].ID.Int64())

	chain, err := svc.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, chain.Valid)
	require.Equal(t, 201, chain.Checked)

	report, err := other.Reconcile(ctx)
	require.NoError(t, err)
	require.True(t, report.Consistent, "drift: %+v", report.Drift)

	acc, err := svc.account(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(201), acc.Version)
	require.True(t, d("800").Equal(acc.TokenReserve))
}

func TestDuplicateSequenceIsConflict(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "100", "1")

	// Rewind the header so the next write reuses sequence 1.
	require.NoError(t, db.Model(&TreasuryAccount{}).Where("account_key = ?", "primary").
		Update("version", 0).Error)

	_, err := svc.Distribute(ctx, DistributeParams{TokenAmount: d("1"), CashValue: d("1")})
	require.True(t, errors.Is(err, ErrConcurrentUpdate))
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	fund(t, svc, "100", "1")
	entry, err := svc.Distribute(ctx, DistributeParams{TokenAmount: d("10"), CashValue: d("10"), Description: "first payout"})
	require.NoError(t, err)
	_, err = svc.Distribute(ctx, DistributeParams{TokenAmount: d("10"), CashValue: d("10")})
	require.NoError(t, err)

	var first ReserveTransaction
	require.NoError(t, db.Order("sequence asc").First(&first).Error)
	require.Equal(t, GenesisHash, first.PreviousHash)

	require.NoError(t, db.Model(&ReserveTransaction{}).Where("id = ?", entry.ID).
		Update("description", "edited").Error)

	report, err := svc.VerifyChain(ctx)
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.Equal(t, entry.ID, report.BrokenAt)
}

func TestEvaluateHealth(t *testing.T) {
	defaults := Thresholds{Warning: 0.75, Critical: 0.9}

	cases := []struct {
		name        string
		funding     string
		distributed string
		reserve     string
		warning     float64
		want        HealthStatus
	}{
		{"empty treasury", "0", "0", "0", 0, HealthHealthy},
		{"low liability", "1000", "100", "500", 0, HealthHealthy},
		{"at warning", "1000", "750", "500", 0, HealthWarning},
		{"at critical", "1000", "900", "500", 0, HealthCritical},
		{"reserve exhausted", "1000", "10", "0", 0, HealthCritical},
		{"account threshold wins", "1000", "500", "500", 0.5, HealthWarning},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := EvaluateHealth(TreasuryAccount{
				TotalFunding:     d(tc.funding),
				TotalDistributed: d(tc.distributed),
				TokenReserve:     d(tc.reserve),
				WarningRatio:     tc.warning,
			}, defaults)
			require.Equal(t, tc.want, h.Status)
		})
	}
}

func TestSummaryWarnings(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fund(t, svc, "100", "0.5")

	svc.chain = chainMock{balance: d("150")}
	svc.quoter = quoterMock{quote: pricing.Quote{Price: d("0.4"), Fallback: true}}

	s, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.True(t, d("200").Equal(s.Account.TokenReserve))
	require.True(t, d("80").Equal(s.ReserveValue))
	require.True(t, s.PriceFallback)
	require.NotNil(t, s.OnChainReserve)
	require.Len(t, s.Warnings, 2)

	svc.quoter = quoterMock{err: errors.New("oracle down")}
	svc.chain = chainMock{err: errors.New("rpc down")}
	s, err = svc.Summary(ctx)
	require.NoError(t, err)
	require.Nil(t, s.OnChainReserve)
	require.Len(t, s.Warnings, 2)
}

func TestListTransactionsPages(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	page, err := svc.ListTransactions(ctx, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Empty(t, page.Data)

	fund(t, svc, "100", "1")
	for i := 0; i < 2; i++ {
		_, err := svc.Distribute(ctx, DistributeParams{TokenAmount: d("1"), CashValue: d("1")})
		require.NoError(t, err)
	}

	page, err = svc.ListTransactions(ctx, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	require.True(t, page.PageInfo.HasMore)
	require.Equal(t, TransactionDistribution, page.Data[0].TransactionType)

	page, err = svc.ListTransactions(ctx, pagination.Pagination{Limit: 2, Cursor: page.PageInfo.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, TransactionDeposit, page.Data[0].TransactionType)
	require.False(t, page.PageInfo.HasMore)
}

func TestExportStatement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ExportStatement(ctx, time.Now().Add(-time.Hour), time.Now())
	require.Equal(t, errutil.StatusServiceUnavailable, errutil.StatusOf(err))

	store := &storeMock{}
	svc.store = store

	fund(t, svc, "100", "1")
	_, err = svc.Distribute(ctx, DistributeParams{TokenAmount: d("2.5"), CashValue: d("2.5"), Description: "payout, weekly"})
	require.NoError(t, err)

	from := time.Now().Add(-time.Hour)
	st, err := svc.ExportStatement(ctx, from, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, st.Rows)
	require.Contains(t, store.key, "treasury/statements/primary/")

	rows, err := csv.NewReader(bytes.NewReader(store.body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "amount", rows[0][4])
	require.Equal(t, "2", rows[2][1])
	require.Equal(t, "-2.50", rows[2][4])
	require.Equal(t, "payout, weekly", rows[2][10])

	_, err = svc.ExportStatement(ctx, from, from)
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))
}
