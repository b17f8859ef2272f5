package campaign

import (
	"context"
	"errors"
	"testing"

	"testerhub-engagement/pkg/errutil"
	"testerhub-engagement/services/payout"
	"testerhub-engagement/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	db := testutil.NewTestDB(t, &Campaign{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node, Schedule: payout.DefaultSchedule()})
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateParams{
		AppName:        "Habit Tracker",
		TesterCapacity: 20,
		Budget:         10000,
		CommissionRate: decimal.RequireFromString("0.2"),
	})
	require.NoError(t, err)
	require.Equal(t, 14, c.RequiredDays)
	require.True(t, c.IsOngoing())

	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "Habit Tracker", got.AppName)
	require.True(t, got.CommissionRate.Equal(decimal.RequireFromString("0.2")))

	ongoing, err := svc.ListOngoing(ctx)
	require.NoError(t, err)
	require.Len(t, ongoing, 1)

	require.NoError(t, svc.MarkCompleted(ctx, c.ID))
	ongoing, err = svc.ListOngoing(ctx)
	require.NoError(t, err)
	require.Empty(t, ongoing)
}

func TestGetMissing(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestCreateRejectsUncoveredDays(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create(context.Background(), CreateParams{
		AppName:        "Too Long",
		RequiredDays:   21,
		TesterCapacity: 5,
		Budget:         100,
		CommissionRate: decimal.Zero,
	})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Code)

	_, err = svc.Create(context.Background(), CreateParams{AppName: "No Seats", Budget: 100})
	require.ErrorIs(t, err, payout.ErrInvalidTerms)
}
