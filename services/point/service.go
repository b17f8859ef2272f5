package point

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"testerhub-engagement/pkg/db/option"
	"testerhub-engagement/pkg/db/pagination"
	"testerhub-engagement/pkg/errutil"
	"testerhub-engagement/pkg/logger"
	"testerhub-engagement/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidAmount      = errutil.New(errutil.StatusBadRequest, "amount must be positive", errutil.WithReason("invalid_amount"))
	ErrInsufficientPoints = errutil.New(errutil.StatusUnprocessableEntity, "insufficient points", errutil.WithReason("insufficient_points"))
	ErrInvariantViolation = errutil.New(errutil.StatusInternal, "point ledger invariant violated", errutil.WithReason("invariant_violation"))
	ErrStorage            = errutil.New(errutil.StatusServiceUnavailable, "point storage unavailable", errutil.WithReason("storage_failure"))
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	balance repository.Repository[Balance]
	history repository.Repository[History]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		balance: repository.ProvideStore[Balance](p.DB),
		history: repository.ProvideStore[History](p.DB),
	}
}

// Entry describes one balance movement. Amount is always positive; the
// direction comes from Credit or Debit.
type Entry struct {
	TesterID    string
	Amount      int64
	Reason      string
	CampaignID  string
	ReferenceID string
	Metadata    map[string]any
}

// Credit adds points inside tx. With a nil tx it runs in its own transaction.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, e Entry) (*History, error) {
	return s.apply(ctx, tx, EntryTypeEarn, e)
}

// Debit removes points inside tx, failing with ErrInsufficientPoints rather
// than letting the balance go negative.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, e Entry) (*History, error) {
	return s.apply(ctx, tx, EntryTypeSpend, e)
}

// Spend is a standalone debit, e.g. redeeming points for a gift card.
func (s *Service) Spend(ctx context.Context, testerID string, amount int64, reason string) (*History, error) {
	return s.Debit(ctx, nil, Entry{TesterID: testerID, Amount: amount, Reason: reason})
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, typ EntryType, e Entry) (*History, error) {
	if e.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if tx == nil {
		var out *History
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = s.apply(ctx, tx, typ, e)
			return err
		})
		return out, err
	}

	zapLog := logger.FromContext(ctx).With(
		zap.String("tester_id", e.TesterID),
		zap.String("type", string(typ)),
		zap.Int64("amount", e.Amount),
	)

	balance, err := s.lockBalance(ctx, tx, e.TesterID)
	if err != nil {
		zapLog.Error("failed to lock balance", zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}

	delta := e.Amount
	if typ == EntryTypeSpend {
		if balance.Balance < e.Amount {
			zapLog.Warn("insufficient points", zap.Int64("balance", balance.Balance))
			return nil, ErrInsufficientPoints
		}
		delta = -e.Amount
	}

	last, err := s.history.WithTrx(tx).FindOne(ctx, &History{TesterID: e.TesterID}, option.WithOrder("sequence DESC"))
	if err != nil {
		zapLog.Error("failed to query last history entry", zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}

	previousHash, sequence := GenesisHash, int64(1)
	if last != nil {
		previousHash, sequence = last.Hash, last.Sequence+1
	}

	var meta datatypes.JSON
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, errutil.BadRequest("invalid metadata", err)
		}
		meta = datatypes.JSON(b)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	entry := &History{
		ID:           s.node.Generate().String(),
		TesterID:     e.TesterID,
		Sequence:     sequence,
		Type:         typ,
		Amount:       delta,
		Balance:      balance.Balance + delta,
		Reason:       e.Reason,
		CampaignID:   e.CampaignID,
		ReferenceID:  e.ReferenceID,
		Metadata:     meta,
		PreviousHash: previousHash,
		CreatedAt:    now,
	}
	entry.Hash = entry.GenerateHash()

	if err := s.history.WithTrx(tx).Create(ctx, entry); err != nil {
		zapLog.Error("failed to append history entry", zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}

	updates := map[string]any{
		"balance":    gorm.Expr("balance + ?", delta),
		"updated_at": now,
	}
	if err := s.balance.WithTrx(tx).Update(ctx, balance.ID, &updates); err != nil {
		zapLog.Error("failed to update balance", zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}

	return entry, nil
}

// lockBalance makes sure the tester has a balance row and locks it for the
// rest of tx. Concurrent first credits race on the unique tester_id index;
// the loser's insert is a no-op and it then waits on the winner's lock.
func (s *Service) lockBalance(ctx context.Context, tx *gorm.DB, testerID string) (*Balance, error) {
	now := s.now().UTC()
	seed := &Balance{ID: s.node.Generate().String(), TesterID: testerID, CreatedAt: now, UpdatedAt: now}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tester_id"}}, DoNothing: true}).
		Create(seed).Error; err != nil {
		return nil, err
	}

	balance, err := s.balance.WithTrx(tx).FindOne(ctx, &Balance{TesterID: testerID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, fmt.Errorf("balance row for %s vanished inside transaction", testerID)
	}
	return balance, nil
}

// GetBalance returns the tester's balance, zero when they never earned.
func (s *Service) GetBalance(ctx context.Context, testerID string) (*Balance, error) {
	b, err := repository.RetryRead(ctx, "point.balance", func(ctx context.Context) (*Balance, error) {
		return s.balance.FindOne(ctx, &Balance{TesterID: testerID})
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query balance", zap.String("tester_id", testerID), zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}
	if b == nil {
		return &Balance{TesterID: testerID}, nil
	}
	return b, nil
}

// ListHistory returns the tester's entries newest first.
func (s *Service) ListHistory(ctx context.Context, testerID string, page pagination.Pagination) ([]*History, *pagination.PageInfo, error) {
	page = page.Normalize()
	opts := []option.QueryOption{
		option.WithOrder("sequence DESC"),
		option.WithLimit(page.Limit + 1),
	}

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		var seq int64
		if _, err := fmt.Sscanf(cursor.ID, "%d", &seq); err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "sequence", Operator: option.LT, Value: seq}))
	}

	rows, err := repository.RetryRead(ctx, "point.history", func(ctx context.Context) ([]*History, error) {
		return s.history.Find(ctx, &History{TesterID: testerID}, opts...)
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query history", zap.String("tester_id", testerID), zap.Error(err))
		return nil, nil, errutil.Wrap(ErrStorage, err)
	}

	out, info, err := pagination.BuildCursorPageInfo(rows, page.Limit, func(h *History) string {
		return fmt.Sprintf("%d", h.Sequence)
	})
	if err != nil {
		return nil, nil, errutil.Internal("failed to build cursor", err)
	}
	return out, info, nil
}

// Verify checks the tester's ledger: every snapshot equals the running sum,
// the hash chain is intact and the balance equals the sum of amounts. A
// violation is reported, never repaired.
func (s *Service) Verify(ctx context.Context, testerID string) error {
	zapLog := logger.FromContext(ctx).With(zap.String("tester_id", testerID))

	entries, err := s.history.Find(ctx, &History{TesterID: testerID}, option.WithOrder("sequence ASC"))
	if err != nil {
		return errutil.Wrap(ErrStorage, err)
	}
	balance, err := s.balance.FindOne(ctx, &Balance{TesterID: testerID})
	if err != nil {
		return errutil.Wrap(ErrStorage, err)
	}

	violation := func(format string, args ...any) error {
		err := fmt.Errorf(format, args...)
		zapLog.Error("point ledger invariant violated", zap.Error(err))
		return errutil.Wrap(ErrInvariantViolation, err)
	}

	var running int64
	previousHash := GenesisHash
	for i, h := range entries {
		running += h.Amount
		if h.Sequence != int64(i+1) {
			return violation("entry %s has sequence %d, want %d", h.ID, h.Sequence, i+1)
		}
		if h.Balance != running {
			return violation("entry %s snapshot %d, running sum %d", h.ID, h.Balance, running)
		}
		if h.PreviousHash != previousHash || h.Hash != h.GenerateHash() {
			return violation("entry %s breaks the hash chain", h.ID)
		}
		if h.Balance < 0 {
			return violation("entry %s leaves a negative balance %d", h.ID, h.Balance)
		}
		previousHash = h.Hash
	}

	var current int64
	if balance != nil {
		current = balance.Balance
	}
	if current != running {
		return violation("balance %d, history sums to %d", current, running)
	}

	return nil
}
