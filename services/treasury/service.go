package treasury

import (
	"context"
	"time"

	"bizops-incentives/pkg/chain"
	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db/option"
	"bizops-incentives/pkg/db/pagination"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/minio"
	"bizops-incentives/pkg/money"
	"bizops-incentives/pkg/repository"
	"bizops-incentives/pkg/sequence"
	"bizops-incentives/services/pricing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	key            string
	thresholds     Thresholds
	reserveAccount string
	statementDir   string

	accounts repository.Repository[TreasuryAccount]
	entries  repository.Repository[ReserveTransaction]
	deposits repository.Repository[FundingDeposit]

	quoter pricing.Quoter
	chain  chain.BalanceReader
	store  minio.ObjectStore
	seq    sequence.Generator

	now func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Quoter pricing.Quoter

	Chain    chain.BalanceReader `optional:"true"`
	Store    minio.ObjectStore   `optional:"true"`
	Sequence sequence.Generator  `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	c := p.Config.Treasury
	key := c.Key
	if key == "" {
		key = "primary"
	}
	dir := c.StatementDir
	if dir == "" {
		dir = "treasury/statements"
	}

	seq := p.Sequence
	if seq == nil {
		seq = sequence.NodeGenerator{Node: p.Node}
	}

	return &Service{
		db:             p.DB,
		node:           p.Node,
		key:            key,
		thresholds:     Thresholds{Warning: c.WarningRatio, Critical: c.CriticalRatio},
		reserveAccount: p.Config.Solana.ReserveAccount,
		statementDir:   dir,

		accounts: repository.ProvideStore[TreasuryAccount](p.DB),
		entries:  repository.ProvideStore[ReserveTransaction](p.DB),
		deposits: repository.ProvideStore[FundingDeposit](p.DB),

		quoter: p.Quoter,
		chain:  p.Chain,
		store:  p.Store,
		seq:    seq,
		now:    time.Now,
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&TreasuryAccount{}, &ReserveTransaction{}, &FundingDeposit{})
}

// Attach locks the treasury header inside tx, creating it on first use, and
// returns a Ledger bound to that transaction. Callers that already run a
// transaction for their own rows (rewards, mining, faucet) use this so the
// distribution and their writes commit together.
func (s *Service) Attach(ctx context.Context, tx *gorm.DB) (*Ledger, error) {
	accounts := s.accounts.WithTrx(tx)

	acc, err := accounts.FindOne(ctx, &TreasuryAccount{Key: s.key}, option.WithLockingUpdate())
	if err != nil {
		logger.FromContext(ctx).Error("failed to lock treasury account", zap.Error(err))
		return nil, err
	}

	if acc == nil {
		seed := &TreasuryAccount{
			ID:               s.node.Generate(),
			Key:              s.key,
			TotalFunding:     decimal.Zero,
			TotalDistributed: decimal.Zero,
			AvailableFunding: decimal.Zero,
			TokenReserve:     decimal.Zero,
			WarningRatio:     s.thresholds.Warning,
			CriticalRatio:    s.thresholds.Critical,
		}
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return nil, err
		}

		acc, err = accounts.FindOne(ctx, &TreasuryAccount{Key: s.key}, option.WithLockingUpdate())
		if err != nil {
			return nil, err
		}
		if acc == nil {
			return nil, errutil.Internal("treasury account missing after create", nil)
		}
	}

	last, err := s.entries.WithTrx(tx).FindOne(ctx, &ReserveTransaction{TreasuryAccountID: acc.ID},
		option.WithSortBy(option.QuerySortBy{SortBy: "sequence", OrderBy: "desc"}),
	)
	if err != nil {
		return nil, err
	}

	lastHash := GenesisHash
	if last != nil {
		lastHash = last.Hash
	}

	return &Ledger{
		tx:       tx,
		node:     s.node,
		now:      s.now,
		account:  acc,
		lastHash: lastHash,
	}, nil
}

// Within runs fn against the locked treasury header in a new transaction.
func (s *Service) Within(ctx context.Context, fn func(*Ledger) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l, err := s.Attach(ctx, tx)
		if err != nil {
			return err
		}
		return fn(l)
	})
}

type DepositRequest struct {
	Amount      decimal.Decimal
	TokenPrice  decimal.Decimal
	Method      string
	Reference   string
	DepositedBy string
}

// Deposit books USD funding. Without an explicit TokenPrice the oracle price
// is used; a fallback quote is refused because it would mint reserve at an
// unverified rate.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (*FundingDeposit, error) {
	price := req.TokenPrice
	if price.IsZero() {
		q, err := s.quoter.Quote(ctx)
		if err != nil {
			return nil, err
		}
		if q.Fallback {
			return nil, errutil.ServiceUnavailable("live token price unavailable, pass token_price explicitly", nil)
		}
		price = q.Price
	}

	code, err := s.seq.NextDepositCode(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("failed to generate deposit code", zap.Error(err))
		return nil, err
	}

	var deposit *FundingDeposit
	err = s.Within(ctx, func(l *Ledger) error {
		deposit, err = l.Deposit(ctx, DepositParams{
			Code:        code,
			Amount:      req.Amount,
			TokenPrice:  price,
			Method:      req.Method,
			Reference:   req.Reference,
			DepositedBy: req.DepositedBy,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("treasury funded",
		zap.String("code", deposit.Code),
		zap.String("amount", money.USDString(deposit.Amount)),
		zap.String("tokens", money.TokenString(deposit.TokensPurchased)),
	)
	return deposit, nil
}

func (s *Service) Distribute(ctx context.Context, p DistributeParams) (*ReserveTransaction, error) {
	var entry *ReserveTransaction
	err := s.Within(ctx, func(l *Ledger) error {
		var err error
		entry, err = l.Distribute(ctx, p)
		return err
	})
	return entry, err
}

func (s *Service) Refund(ctx context.Context, p DistributeParams) (*ReserveTransaction, error) {
	var entry *ReserveTransaction
	err := s.Within(ctx, func(l *Ledger) error {
		var err error
		entry, err = l.Refund(ctx, p)
		return err
	})
	return entry, err
}

func (s *Service) Adjust(ctx context.Context, p AdjustParams) (*ReserveTransaction, error) {
	var entry *ReserveTransaction
	err := s.Within(ctx, func(l *Ledger) error {
		var err error
		entry, err = l.Adjust(ctx, p)
		return err
	})
	if err == nil {
		logger.FromContext(ctx).Warn("treasury adjusted",
			zap.String("amount_delta", p.AmountDelta.String()),
			zap.String("token_delta", p.TokenDelta.String()),
			zap.String("reason", p.Reason),
			zap.String("adjusted_by", p.AdjustedBy),
		)
	}
	return entry, err
}

// account reads the header without locking. A treasury that was never
// touched reads as all zeros.
func (s *Service) account(ctx context.Context) (TreasuryAccount, error) {
	acc, err := s.accounts.FindOne(ctx, &TreasuryAccount{Key: s.key})
	if err != nil {
		return TreasuryAccount{}, err
	}
	if acc == nil {
		return TreasuryAccount{Key: s.key}, nil
	}
	return *acc, nil
}

type Summary struct {
	Account        TreasuryAccount  `json:"account"`
	Health         Health           `json:"health"`
	TokenPrice     decimal.Decimal  `json:"token_price"`
	PriceFallback  bool             `json:"price_fallback"`
	ReserveValue   decimal.Decimal  `json:"reserve_value"`
	OnChainReserve *decimal.Decimal `json:"on_chain_reserve,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

// Summary reports balances and health. The price and on-chain lookups are
// best effort; their failures show up as warnings.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	var (
		acc      TreasuryAccount
		quote    pricing.Quote
		quoteErr error
		onChain  *decimal.Decimal
		chainErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acc, err = s.account(gctx)
		return err
	})
	g.Go(func() error {
		quote, quoteErr = s.quoter.Quote(gctx)
		return nil
	})
	if s.chain != nil && s.reserveAccount != "" {
		g.Go(func() error {
			bal, err := s.chain.TokenBalance(gctx, s.reserveAccount)
			if err != nil {
				chainErr = err
				return nil
			}
			onChain = &bal
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.FromContext(ctx).Error("failed to load treasury summary", zap.Error(err))
		return nil, err
	}

	out := &Summary{
		Account:        acc,
		Health:         EvaluateHealth(acc, s.thresholds),
		OnChainReserve: onChain,
	}

	if quoteErr != nil {
		out.Warnings = append(out.Warnings, "token price unavailable: "+quoteErr.Error())
	} else {
		out.TokenPrice = quote.Price
		out.PriceFallback = quote.Fallback
		out.ReserveValue = money.CashValue(acc.TokenReserve, quote.Price)
		if quote.Fallback {
			out.Warnings = append(out.Warnings, "token price is the configured fallback")
		}
	}

	if chainErr != nil {
		out.Warnings = append(out.Warnings, "on-chain reserve unavailable: "+chainErr.Error())
	}
	if onChain != nil && onChain.LessThan(acc.TokenReserve) {
		out.Warnings = append(out.Warnings, "on-chain reserve "+money.TokenString(*onChain)+" is below booked reserve "+money.TokenString(acc.TokenReserve))
	}
	if out.Health.Status != HealthHealthy {
		out.Warnings = append(out.Warnings, "treasury health is "+string(out.Health.Status))
	}

	return out, nil
}

// RecordHealth evaluates the header and publishes it as metrics.
func (s *Service) RecordHealth(ctx context.Context) (Health, error) {
	acc, err := s.account(ctx)
	if err != nil {
		return Health{}, err
	}

	h := EvaluateHealth(acc, s.thresholds)
	observeBalances(acc)
	observeHealth(h)

	if h.Status != HealthHealthy {
		logger.FromContext(ctx).Warn("treasury health degraded",
			zap.String("status", string(h.Status)),
			zap.String("liability_ratio", h.LiabilityRatio.String()),
		)
	}
	return h, nil
}

func (s *Service) ListTransactions(ctx context.Context, p pagination.Pagination) (*pagination.Page[ReserveTransaction], error) {
	p = p.Normalize()
	opts, err := p.OptionsBy("sequence")
	if err != nil {
		return nil, errutil.BadRequest("invalid cursor", err)
	}

	acc, err := s.account(ctx)
	if err != nil {
		return nil, err
	}
	if acc.ID == 0 {
		return pagination.BuildPage[ReserveTransaction](nil, p.Limit, entrySequence), nil
	}

	rows, err := s.entries.Find(ctx, &ReserveTransaction{TreasuryAccountID: acc.ID}, opts...)
	if err != nil {
		return nil, err
	}
	return pagination.BuildPage(rows, p.Limit, entrySequence), nil
}

func (s *Service) ListDeposits(ctx context.Context, p pagination.Pagination) (*pagination.Page[FundingDeposit], error) {
	p = p.Normalize()
	opts, err := p.Options()
	if err != nil {
		return nil, errutil.BadRequest("invalid cursor", err)
	}

	rows, err := s.deposits.Find(ctx, nil, opts...)
	if err != nil {
		return nil, err
	}
	return pagination.BuildPage(rows, p.Limit, func(d *FundingDeposit) int64 { return d.ID.Int64() }), nil
}

func entrySequence(e *ReserveTransaction) int64 { return e.Sequence }

const scanBatch = 500

// scan walks the chain oldest first, in sequence order.
func (s *Service) scan(ctx context.Context, accountID snowflake.ID, fn func(*ReserveTransaction) bool) error {
	var after int64
	for {
		opts := []option.QueryOption{
			option.WithSortBy(option.QuerySortBy{SortBy: "sequence", OrderBy: "asc"}),
			option.WithLimit(scanBatch),
		}
		if after != 0 {
			opts = append(opts, option.ApplyOperator(option.Condition{Field: "sequence", Operator: option.GT, Value: after}))
		}

		rows, err := s.entries.Find(ctx, &ReserveTransaction{TreasuryAccountID: accountID}, opts...)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if !fn(r) {
				return nil
			}
		}
		if len(rows) < scanBatch {
			return nil
		}
		after = rows[len(rows)-1].Sequence
	}
}

type ChainReport struct {
	Valid    bool         `json:"valid"`
	Checked  int          `json:"checked"`
	BrokenAt snowflake.ID `json:"broken_at,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// VerifyChain recomputes every entry hash and checks each link to its
// predecessor.
func (s *Service) VerifyChain(ctx context.Context) (*ChainReport, error) {
	acc, err := s.account(ctx)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{Valid: true}
	if acc.ID == 0 {
		return report, nil
	}

	prev := GenesisHash
	err = s.scan(ctx, acc.ID, func(e *ReserveTransaction) bool {
		report.Checked++
		switch {
		case e.PreviousHash != prev:
			report.Valid, report.BrokenAt, report.Reason = false, e.ID, "previous hash does not link to predecessor"
		case e.GenerateHash() != e.Hash:
			report.Valid, report.BrokenAt, report.Reason = false, e.ID, "hash does not match contents"
		}
		prev = e.Hash
		return report.Valid
	})
	if err != nil {
		return nil, err
	}

	if !report.Valid {
		logger.FromContext(ctx).Error("treasury hash chain broken",
			zap.Int64("entry_id", report.BrokenAt.Int64()),
			zap.String("reason", report.Reason),
		)
	}
	return report, nil
}

type Drift struct {
	Field    string          `json:"field"`
	EntryID  snowflake.ID    `json:"entry_id,omitempty"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

type ReconcileReport struct {
	Consistent bool    `json:"consistent"`
	Entries    int     `json:"entries"`
	Drift      []Drift `json:"drift,omitempty"`
}

// Reconcile replays every reserve transaction from zero and compares the
// running totals with each entry's snapshots and with the live header.
// Replay stops at the first drifting entry.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	acc, err := s.account(ctx)
	if err != nil {
		return nil, err
	}

	var funding, distributed, available, reserve decimal.Decimal
	report := &ReconcileReport{Consistent: true}

	if acc.ID != 0 {
		err = s.scan(ctx, acc.ID, func(e *ReserveTransaction) bool {
			report.Entries++
			switch e.TransactionType {
			case TransactionDeposit, TransactionAdjustment:
				funding = funding.Add(e.Amount)
			case TransactionDistribution, TransactionRefund:
				distributed = distributed.Sub(e.Amount)
			}
			available = available.Add(e.Amount)
			reserve = reserve.Add(e.TokenAmount)

			if !available.Equal(e.BalanceAfter) {
				report.Drift = append(report.Drift, Drift{Field: "balance_after", EntryID: e.ID, Expected: available, Actual: e.BalanceAfter})
			}
			if !reserve.Equal(e.TokenReserveAfter) {
				report.Drift = append(report.Drift, Drift{Field: "token_reserve_after", EntryID: e.ID, Expected: reserve, Actual: e.TokenReserveAfter})
			}
			return len(report.Drift) == 0
		})
		if err != nil {
			return nil, err
		}
	}

	if len(report.Drift) == 0 {
		for _, c := range []struct {
			field            string
			expected, actual decimal.Decimal
		}{
			{"total_funding", funding, acc.TotalFunding},
			{"total_distributed", distributed, acc.TotalDistributed},
			{"available_funding", available, acc.AvailableFunding},
			{"token_reserve", reserve, acc.TokenReserve},
		} {
			if !c.expected.Equal(c.actual) {
				report.Drift = append(report.Drift, Drift{Field: c.field, Expected: c.expected, Actual: c.actual})
			}
		}
	}

	report.Consistent = len(report.Drift) == 0
	if !report.Consistent {
		logger.FromContext(ctx).Error("treasury reconciliation found drift", zap.Any("drift", report.Drift))
	}
	return report, nil
}
