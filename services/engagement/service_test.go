package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"testerhub-engagement/pkg/calendar"
	"testerhub-engagement/pkg/config"
	"testerhub-engagement/pkg/db/pagination"
	"testerhub-engagement/pkg/featureflags"
	"testerhub-engagement/pkg/repository"
	"testerhub-engagement/pkg/taskname"
	"testerhub-engagement/services/campaign"
	"testerhub-engagement/services/checkin"
	"testerhub-engagement/services/enrollment"
	"testerhub-engagement/services/payout"
	"testerhub-engagement/services/point"
	"testerhub-engagement/services/progress"
	"testerhub-engagement/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	repository.ReadRetryDelay = time.Millisecond
}

type captureEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (e *captureEnqueuer) Enqueue(ctx context.Context, t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, t)
	e.opts = append(e.opts, opts)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

func (e *captureEnqueuer) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.tasks))
	for i, t := range e.tasks {
		out[i] = t.Type()
	}
	return out
}

func paginationFirst() pagination.Pagination {
	return pagination.Pagination{Limit: 10}
}

type fixture struct {
	db          *gorm.DB
	cfg         *config.Config
	clock       *calendar.FixedClock
	campaigns   *campaign.Service
	enrollments *enrollment.Service
	points      *point.Service
	enqueuer    *captureEnqueuer
	svc         *Service
	campaign    *campaign.Campaign
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&campaign.Campaign{},
		&enrollment.Enrollment{},
		&checkin.CheckIn{},
		&point.Balance{},
		&point.History{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Engagement.Timezone = "UTC"
	cfg.Engagement.RequiredDays = 14
	cfg.Engagement.AllowRejoin = true
	cfg.Engagement.SweepSchedule = "5 0 * * *"
	cfg.Engagement.StatusCacheTTL = time.Minute

	clock := calendar.FixedOn(calendar.MustParseDate("2024-07-01"))
	schedule := payout.DefaultSchedule()
	campaigns := campaign.NewService(campaign.ServiceParams{DB: db, Node: node, Schedule: schedule})
	checkins := checkin.NewRepository(db)
	enrollments := enrollment.NewService(enrollment.ServiceParams{
		DB: db, Node: node, Clock: clock, Config: cfg,
		Flags: featureflags.Static{}, Campaigns: campaigns, CheckIns: checkins,
	})
	points := point.NewService(point.ServiceParams{DB: db, Node: node})
	engine := progress.NewEngine(progress.EngineParams{
		Config: cfg, Clock: clock, Campaigns: campaigns, Enrollments: enrollments, CheckIns: checkins,
	})
	enq := &captureEnqueuer{}

	c, err := campaigns.Create(context.Background(), campaign.CreateParams{
		AppName:        "Budget Planner",
		TesterCapacity: 20,
		Budget:         10000,
		CommissionRate: decimal.RequireFromString("0.2"),
	})
	require.NoError(t, err)

	return &fixture{
		db:          db,
		cfg:         cfg,
		clock:       clock,
		campaigns:   campaigns,
		enrollments: enrollments,
		points:      points,
		enqueuer:    enq,
		campaign:    c,
		svc: NewService(ServiceParams{
			DB:          db,
			Node:        node,
			Clock:       clock,
			Config:      cfg,
			Calculator:  payout.NewCalculator(schedule),
			Campaigns:   campaigns,
			Enrollments: enrollments,
			CheckIns:    checkins,
			Points:      points,
			Progress:    engine,
			Enqueuer:    enq,
		}),
	}
}

func (f *fixture) join(t *testing.T, testerID string) *enrollment.Enrollment {
	t.Helper()
	e, err := f.svc.Join(context.Background(), f.campaign.ID, testerID)
	require.NoError(t, err)
	return e
}

func TestRecordCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "tester-a")

	ci, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)
	require.Equal(t, 1, ci.DayIndex)
	require.Equal(t, int64(20), ci.Points)
	require.Equal(t, "2024-07-01", ci.CheckInDate.String())

	e, err := f.svc.GetEnrollment(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)
	require.Equal(t, int64(20), e.CumulativePoints)

	balance, err := f.points.GetBalance(ctx, "tester-a")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.Balance)

	history, _, err := f.points.ListHistory(ctx, "tester-a", paginationFirst())
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "Day 1 check-in reward", history[0].Reason)
	require.Equal(t, f.campaign.ID, history[0].CampaignID)
	require.Equal(t, ci.ID, history[0].ReferenceID)

	require.Equal(t, []string{taskname.EnrollmentEvaluate}, f.enqueuer.types())
	var payload EvaluatePayload
	require.NoError(t, json.Unmarshal(f.enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, EvaluatePayload{CampaignID: f.campaign.ID, TesterID: "tester-a"}, payload)
}

func TestRecordCheckInNotEnrolled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "stranger")
	require.True(t, errors.Is(err, ErrNotEnrolled))

	f.join(t, "leaver")
	_, err = f.svc.Leave(ctx, f.campaign.ID, "leaver")
	require.NoError(t, err)

	_, err = f.svc.RecordCheckIn(ctx, f.campaign.ID, "leaver")
	require.True(t, errors.Is(err, ErrNotEnrolled))
	require.Empty(t, f.enqueuer.types())
}

func TestRecordCheckInTwiceSameDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "tester-a")

	_, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)

	_, err = f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
	require.True(t, errors.Is(err, ErrAlreadyRecordedToday))

	balance, err := f.points.GetBalance(ctx, "tester-a")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.Balance)
}

func TestRecordCheckInConcurrentSameDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "tester-a")

	const callers = 6
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyRecordedToday):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, callers-1, dup)

	var rows int64
	require.NoError(t, f.db.Model(&checkin.CheckIn{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)

	balance, err := f.points.GetBalance(ctx, "tester-a")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.Balance)
	require.NoError(t, f.svc.VerifyTester(ctx, "tester-a"))
}

// staleReadRepo never sees an existing check-in, as when two transactions
// both pass the lookup before either inserts.
type staleReadRepo struct {
	checkin.Repository
}

func (r staleReadRepo) WithTx(tx *gorm.DB) checkin.Repository {
	return staleReadRepo{Repository: r.Repository.WithTx(tx)}
}

func (r staleReadRepo) FindOnDate(ctx context.Context, campaignID, testerID string, date calendar.Date) (*checkin.CheckIn, error) {
	return nil, nil
}

func TestRecordCheckInUniqueIndexRejectsSecondInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "tester-a")

	_, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)

	f.svc.checkins = staleReadRepo{Repository: f.svc.checkins}

	_, err = f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
	require.True(t, errors.Is(err, ErrAlreadyRecordedToday))

	var rows int64
	require.NoError(t, f.db.Model(&checkin.CheckIn{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)

	e, err := f.svc.GetEnrollment(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)
	require.Equal(t, int64(20), e.CumulativePoints)

	balance, err := f.points.GetBalance(ctx, "tester-a")
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.Balance)

	history, _, err := f.points.ListHistory(ctx, "tester-a", paginationFirst())
	require.NoError(t, err)
	require.Len(t, history, 1)

	require.NoError(t, f.svc.VerifyTester(ctx, "tester-a"))
	require.Equal(t, []string{taskname.EnrollmentEvaluate}, f.enqueuer.types())
}

func TestFullCampaignPaysOneShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "tester-a")

	var total int64
	for day := 1; day <= 16; day++ {
		ci, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
		require.NoError(t, err)
		require.Equal(t, day, ci.DayIndex)
		total += ci.Points
		f.clock.Advance(1)
	}
	require.Equal(t, int64(400), total)

	e, err := f.svc.GetEnrollment(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)
	require.Equal(t, total, e.CumulativePoints)

	balance, err := f.points.GetBalance(ctx, "tester-a")
	require.NoError(t, err)
	require.Equal(t, total, balance.Balance)
	require.NoError(t, f.svc.VerifyTester(ctx, "tester-a"))
}

func TestRejoinedTesterIsCappedAtOneShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "tester-a")

	for day := 0; day < 10; day++ {
		_, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
		require.NoError(t, err)
		f.clock.Advance(1)
	}
	// Days 1..10 pay 20+20+24+24+24+28+28+28+28+32.
	e, err := f.svc.GetEnrollment(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)
	require.Equal(t, int64(256), e.CumulativePoints)

	_, err = f.svc.Leave(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)
	f.clock.Advance(2)
	rejoined := f.join(t, "tester-a")
	require.Equal(t, 2, rejoined.Cycle)

	var second int64
	for day := 1; day <= 14; day++ {
		ci, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
		require.NoError(t, err)
		require.Equal(t, day, ci.DayIndex)
		require.Equal(t, 2, ci.Cycle)
		second += ci.Points
		f.clock.Advance(1)
	}
	require.Equal(t, int64(400-256), second)

	balance, err := f.points.GetBalance(ctx, "tester-a")
	require.NoError(t, err)
	require.Equal(t, int64(400), balance.Balance)
	require.NoError(t, f.svc.VerifyTester(ctx, "tester-a"))
}

func TestVerifyTesterDetectsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.join(t, "tester-a")

	_, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&enrollment.Enrollment{}).Where("id = ?", e.ID).
		Update("cumulative_points", 999).Error)

	err = f.svc.VerifyTester(ctx, "tester-a")
	require.True(t, errors.Is(err, ErrInvariantViolation))
}

func TestEvaluate(t *testing.T) {
	t.Run("drops after a missed day", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.join(t, "tester-a")

		for i := 0; i < 3; i++ {
			_, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
			require.NoError(t, err)
			f.clock.Advance(1)
		}

		v, err := f.svc.Evaluate(ctx, f.campaign.ID, "tester-a")
		require.NoError(t, err)
		require.Equal(t, progress.Keep, v)

		f.clock.Advance(1)
		status, err := f.svc.GetTesterStatus(ctx, f.campaign.ID)
		require.NoError(t, err)
		require.Len(t, status.Testers, 1)
		require.True(t, status.Testers[0].Dropped)
		require.Equal(t, 3, *status.Testers[0].LastCompletedDay)
		require.Equal(t, 5, status.Testers[0].CurrentDay)

		v, err = f.svc.Evaluate(ctx, f.campaign.ID, "tester-a")
		require.NoError(t, err)
		require.Equal(t, progress.Drop, v)

		e, err := f.svc.GetEnrollment(ctx, f.campaign.ID, "tester-a")
		require.NoError(t, err)
		require.Equal(t, enrollment.StatusDropped, e.Status)

		v, err = f.svc.Evaluate(ctx, f.campaign.ID, "tester-a")
		require.NoError(t, err)
		require.Equal(t, progress.Keep, v)
	})

	t.Run("completes after the required streak", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.join(t, "tester-a")

		for i := 0; i < 14; i++ {
			_, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
			require.NoError(t, err)
			if i < 13 {
				f.clock.Advance(1)
			}
		}

		v, err := f.svc.Evaluate(ctx, f.campaign.ID, "tester-a")
		require.NoError(t, err)
		require.Equal(t, progress.Complete, v)

		_, err = f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
		require.True(t, errors.Is(err, ErrNotEnrolled))
	})
}

func TestSweepCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "steady")
	f.join(t, "lapsed")
	f.join(t, "never")

	for i := 0; i < 2; i++ {
		_, err := f.svc.RecordCheckIn(ctx, f.campaign.ID, "steady")
		require.NoError(t, err)
		if i == 0 {
			_, err = f.svc.RecordCheckIn(ctx, f.campaign.ID, "lapsed")
			require.NoError(t, err)
		}
		f.clock.Advance(1)
	}

	res, err := f.svc.SweepCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Equal(t, SweepResult{Evaluated: 3, Dropped: 2}, res)

	steady, err := f.svc.GetEnrollment(ctx, f.campaign.ID, "steady")
	require.NoError(t, err)
	require.Equal(t, enrollment.StatusOngoing, steady.Status)
}

func TestListMyCampaignsAndPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "tester-a")

	pending, err := f.svc.PendingToday(ctx, "tester-a")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = f.svc.RecordCheckIn(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)

	pending, err = f.svc.PendingToday(ctx, "tester-a")
	require.NoError(t, err)
	require.Empty(t, pending)

	list, err := f.svc.ListMyCampaigns(ctx, "tester-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Budget Planner", list[0].AppName)
	require.Equal(t, 1, list[0].CompletedDays)
	require.True(t, list[0].PerTesterShare.Equal(decimal.NewFromInt(400)))
	require.True(t, list[0].Completed)
	require.False(t, list[0].Dropped)
}

func TestTaskHandlers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.join(t, "tester-a")
	f.clock.Advance(2)

	h := NewTaskHandler(f.svc)

	raw, err := json.Marshal(EvaluatePayload{CampaignID: f.campaign.ID, TesterID: "tester-a"})
	require.NoError(t, err)
	require.NoError(t, h.HandleEvaluate(ctx, asynq.NewTask(taskname.EnrollmentEvaluate, raw)))

	e, err := f.svc.GetEnrollment(ctx, f.campaign.ID, "tester-a")
	require.NoError(t, err)
	require.Equal(t, enrollment.StatusDropped, e.Status)

	raw, err = json.Marshal(EvaluatePayload{CampaignID: f.campaign.ID, TesterID: "ghost"})
	require.NoError(t, err)
	require.NoError(t, h.HandleEvaluate(ctx, asynq.NewTask(taskname.EnrollmentEvaluate, raw)))

	err = h.HandleSweep(ctx, asynq.NewTask(taskname.CampaignSweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	raw, err = json.Marshal(SweepPayload{CampaignID: f.campaign.ID})
	require.NoError(t, err)
	require.NoError(t, h.HandleSweep(ctx, asynq.NewTask(taskname.CampaignSweep, raw)))
}

func TestSchedulerEnqueuesOneSweepPerOngoingCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	closed, err := f.campaigns.Create(ctx, campaign.CreateParams{
		AppName:        "Old App",
		TesterCapacity: 5,
		Budget:         1000,
		CommissionRate: decimal.Zero,
	})
	require.NoError(t, err)
	require.NoError(t, f.campaigns.MarkCompleted(ctx, closed.ID))

	s, err := NewScheduler(SchedulerParams{Config: f.cfg, Clock: f.clock, Campaigns: f.campaigns, Enqueuer: f.enqueuer})
	require.NoError(t, err)

	require.Equal(t, 1, s.EnqueueSweeps(ctx))
	require.Equal(t, []string{taskname.CampaignSweep}, f.enqueuer.types())

	var payload SweepPayload
	require.NoError(t, json.Unmarshal(f.enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, f.campaign.ID, payload.CampaignID)
}
