package cashout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bizops-incentives/pkg/config"
	"bizops-incentives/pkg/db/option"
	"bizops-incentives/pkg/db/pagination"
	"bizops-incentives/pkg/errutil"
	"bizops-incentives/pkg/logger"
	"bizops-incentives/pkg/money"
	"bizops-incentives/pkg/repository"
	"bizops-incentives/pkg/sequence"
	"bizops-incentives/pkg/task"
	"bizops-incentives/pkg/taskname"
	"bizops-incentives/pkg/webhook"
	"bizops-incentives/services/pricing"
	"bizops-incentives/services/wallet"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cashout_transitions_total",
	Help: "Cashout requests entering each status.",
}, []string{"status"})

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	cfg      config.Cashout
	wallet   *wallet.Service
	quoter   pricing.Quoter
	enqueuer task.Enqueuer
	seq      sequence.Generator
	verifier *webhook.Verifier
	requests repository.Repository[CashoutRequest]
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Wallet   *wallet.Service
	Quoter   pricing.Quoter
	Enqueuer task.Enqueuer      `optional:"true"`
	Sequence sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	cfg := p.Config.Cashout
	if cfg.Queue == "" {
		cfg.Queue = "critical"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}

	seq := p.Sequence
	if seq == nil {
		seq = sequence.NodeGenerator{Node: p.Node}
	}

	return &Service{
		db:       p.DB,
		node:     p.Node,
		cfg:      cfg,
		wallet:   p.Wallet,
		quoter:   p.Quoter,
		enqueuer: p.Enqueuer,
		seq:      seq,
		verifier: webhook.NewVerifier(p.Config.Webhook.PaymentSecret, p.Config.Webhook.MaxSkew),
		requests: repository.ProvideStore[CashoutRequest](p.DB),
		now:      time.Now,
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CashoutRequest{})
}

type RequestParams struct {
	UserID      string
	TokenAmount decimal.Decimal
	Method      string
	Destination string
}

// Request debits the wallet and records a pending cashout in one
// transaction, then queues it for processing. An insufficient balance is
// rejected before anything is written.
func (s *Service) Request(ctx context.Context, p RequestParams) (*CashoutRequest, error) {
	amount := money.Tokens(p.TokenAmount)
	if !amount.IsPositive() {
		return nil, errutil.BadRequest("token amount must be positive", nil)
	}
	if minimum := decimal.NewFromFloat(s.cfg.MinTokens); amount.LessThan(minimum) {
		return nil, errutil.BadRequest("token amount below the cashout minimum", nil, errutil.WithDetail("min_tokens", minimum.String()))
	}
	if p.Method == "" || p.Destination == "" {
		return nil, errutil.BadRequest("payout method and destination are required", nil)
	}

	q, err := s.quoter.Quote(ctx)
	if err != nil {
		return nil, errutil.ServiceUnavailable("token price unavailable", err)
	}
	if q.Fallback {
		return nil, errutil.ServiceUnavailable("live token price unavailable, cashouts paused", nil)
	}

	code, err := s.seq.NextCashoutCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &CashoutRequest{
		ID:             s.node.Generate(),
		Code:           code,
		UserID:         p.UserID,
		TokenAmount:    amount,
		CashAmount:     money.CashValue(amount, q.Price),
		ConversionRate: money.Tokens(q.Price),
		Status:         StatusPending,
		Method:         p.Method,
		Destination:    p.Destination,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.wallet.Debit(ctx, tx, p.UserID, amount, wallet.CounterNone); err != nil {
			return err
		}
		return s.requests.WithTrx(tx).Create(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	logger.FromContext(ctx).Info("cashout requested",
		zap.String("code", req.Code),
		zap.String("user_id", req.UserID),
		zap.String("token_amount", req.TokenAmount.String()),
		zap.String("cash_amount", req.CashAmount.String()),
	)

	// A request that fails to queue stays pending and is picked up by the
	// stale sweep.
	if err := s.enqueue(ctx, req.ID); err != nil {
		logger.FromContext(ctx).Warn("failed to enqueue cashout", zap.String("code", req.Code), zap.Error(err))
	}
	return req, nil
}

func (s *Service) enqueue(ctx context.Context, id snowflake.ID) error {
	if s.enqueuer == nil {
		return errors.New("task queue not configured")
	}

	payload, err := json.Marshal(ProcessPayload{CashoutID: id})
	if err != nil {
		return err
	}

	_, err = s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.CashoutProcess, payload),
		asynq.Queue(s.cfg.Queue),
		asynq.MaxRetry(5),
	)
	return err
}

type TransitionParams struct {
	Reason    string
	Reference string
	// From, when set, is the status the request must still hold once locked.
	From Status
}

// Transition moves a request along pending -> processing -> completed, with
// failed and cancelled reachable from either open status. Failed and
// cancelled return the tokens to the wallet; completed books them as cashed
// out.
func (s *Service) Transition(ctx context.Context, id snowflake.ID, to Status, p TransitionParams) (*CashoutRequest, error) {
	if to == StatusFailed && p.Reason == "" {
		return nil, errutil.BadRequest("failure reason is required", nil)
	}

	var out *CashoutRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := s.requests.WithTrx(tx).FindOne(ctx, nil, option.WithID(id), option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if req == nil {
			return errutil.NotFound("cashout request not found", nil)
		}
		if p.From != "" && req.Status != p.From {
			return errutil.Conflict(fmt.Sprintf("cashout is %s, not %s", req.Status, p.From), nil,
				errutil.WithDetail("status", string(req.Status)))
		}
		if !req.Status.CanTransitionTo(to) {
			return errutil.Conflict(fmt.Sprintf("cannot move cashout from %s to %s", req.Status, to), nil,
				errutil.WithDetail("status", string(req.Status)))
		}

		now := s.now().UTC()
		updates := map[string]any{"status": to, "updated_at": now}
		switch to {
		case StatusProcessing:
			updates["processed_at"] = now
			req.ProcessedAt = &now
		case StatusCompleted:
			updates["completed_at"] = now
			req.CompletedAt = &now
			if err := s.wallet.RecordCashout(ctx, tx, req.UserID, req.TokenAmount); err != nil {
				return err
			}
		case StatusFailed, StatusCancelled:
			if err := s.wallet.Restore(ctx, tx, req.UserID, req.TokenAmount); err != nil {
				return err
			}
		}
		if p.Reason != "" {
			updates["failure_reason"] = p.Reason
			req.FailureReason = p.Reason
		}
		if p.Reference != "" {
			updates["external_ref"] = p.Reference
			req.ExternalRef = p.Reference
		}

		res := tx.WithContext(ctx).Model(&CashoutRequest{}).
			Where("id = ? AND status = ?", req.ID, req.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("cashout status changed concurrently", nil)
		}

		req.Status, req.UpdatedAt = to, now
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(to)).Inc()
	logger.FromContext(ctx).Info("cashout transitioned",
		zap.String("code", out.Code),
		zap.String("status", string(to)),
		zap.String("reason", p.Reason),
	)
	return out, nil
}

// Cancel lets the owner withdraw a request that has not been picked up yet.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID, userID string) (*CashoutRequest, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, errutil.NotFound("cashout request not found", nil)
	}
	return s.Transition(ctx, id, StatusCancelled, TransitionParams{Reason: "cancelled by user", From: StatusPending})
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*CashoutRequest, error) {
	req, err := s.requests.FindOne(ctx, nil, option.WithID(id))
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errutil.NotFound("cashout request not found", nil)
	}
	return req, nil
}

// HandleProcessTask picks a pending request up for payout. Deliveries for a
// request that already left pending are acknowledged without change.
func (s *Service) HandleProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ProcessPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode cashout payload: %v: %w", err, asynq.SkipRetry)
	}

	req, err := s.requests.FindOne(ctx, nil, option.WithID(p.CashoutID))
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("cashout %d not found: %w", p.CashoutID.Int64(), asynq.SkipRetry)
	}
	if req.Status != StatusPending {
		return nil
	}

	_, err = s.Transition(ctx, req.ID, StatusProcessing, TransitionParams{})
	if errutil.StatusOf(err) == errutil.StatusConflict {
		return nil
	}
	return err
}

// HandlePaymentCallback applies a signed payout processor result. Replays of
// an already applied result return the request unchanged.
func (s *Service) HandlePaymentCallback(ctx context.Context, signed string) (*CashoutRequest, error) {
	var cb PaymentCallback
	if err := s.verifier.Verify(signed, &cb); err != nil {
		logger.FromContext(ctx).Warn("rejected payment callback", zap.Error(err))
		if errors.Is(err, webhook.ErrNoSecret) {
			return nil, errutil.ServiceUnavailable("payment callbacks not configured", err)
		}
		return nil, errutil.Unauthorized("invalid payment callback signature", err)
	}

	if cb.Code == "" {
		return nil, errutil.BadRequest("callback is missing the cashout code", nil)
	}

	switch cb.Status {
	case StatusProcessing, StatusCompleted, StatusFailed:
	default:
		return nil, errutil.BadRequest("unsupported callback status", nil, errutil.WithDetail("status", string(cb.Status)))
	}

	req, err := s.requests.FindOne(ctx, &CashoutRequest{Code: cb.Code})
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errutil.NotFound("cashout request not found", nil)
	}
	if req.Status == cb.Status {
		return req, nil
	}

	reason := cb.Reason
	if cb.Status == StatusFailed && reason == "" {
		reason = "rejected by payment processor"
	}
	return s.Transition(ctx, req.ID, cb.Status, TransitionParams{Reason: reason, Reference: cb.Reference})
}

// EnqueueStale re-queues requests left pending longer than the configured
// threshold and returns how many were queued.
func (s *Service) EnqueueStale(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.StaleAfter)
	stale, err := s.requests.Find(ctx, &CashoutRequest{Status: StatusPending},
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LT, Value: cutoff}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}),
		option.WithLimit(500),
	)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, req := range stale {
		if err := s.enqueue(ctx, req.ID); err != nil {
			logger.FromContext(ctx).Warn("failed to re-enqueue cashout", zap.String("code", req.Code), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

type ListFilter struct {
	pagination.Pagination
	UserID string `form:"user_id"`
	Status Status `form:"status"`
}

func (s *Service) List(ctx context.Context, f ListFilter) (*pagination.Page[CashoutRequest], error) {
	p := f.Pagination.Normalize()
	opts, err := p.Options()
	if err != nil {
		return nil, errutil.BadRequest("invalid cursor", err)
	}

	rows, err := s.requests.Find(ctx, &CashoutRequest{UserID: f.UserID, Status: f.Status}, opts...)
	if err != nil {
		return nil, err
	}
	return pagination.BuildPage(rows, p.Limit, func(r *CashoutRequest) int64 { return r.ID.Int64() }), nil
}
