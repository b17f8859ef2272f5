package progress

import (
	"context"
	"time"

	"testerhub-engagement/pkg/calendar"
	"testerhub-engagement/pkg/config"
	"testerhub-engagement/pkg/errutil"
	"testerhub-engagement/pkg/logger"
	"testerhub-engagement/pkg/rediskey"
	"testerhub-engagement/pkg/repository"
	"testerhub-engagement/services/campaign"
	"testerhub-engagement/services/checkin"
	"testerhub-engagement/services/enrollment"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrStorage = errutil.New(errutil.StatusServiceUnavailable, "progress storage unavailable", errutil.WithReason("storage_failure"))

type TesterStatus struct {
	TesterID         string            `json:"tester_id"`
	EnrollmentStatus enrollment.Status `json:"enrollment_status"`
	Cycle            int               `json:"cycle"`
	CumulativePoints int64             `json:"cumulative_points"`
	Analysis
}

type CampaignStatus struct {
	CampaignID      string          `json:"campaign_id"`
	AppName         string          `json:"app_name"`
	Status          campaign.Status `json:"status"`
	RequiredDays    int             `json:"required_days"`
	TesterCapacity  int             `json:"tester_capacity"`
	Date            calendar.Date   `json:"date"`
	ProgressPercent int             `json:"progress_percent"`
	Testers         []TesterStatus  `json:"testers"`
}

// Engine computes campaign status. It never writes to the store.
type Engine struct {
	clock       calendar.Clock
	graceDays   int
	campaigns   repository.Repository[campaign.Campaign]
	enrollments *enrollment.Service
	checkins    checkin.Repository
	cache       StatusCache
	group       singleflight.Group
}

type EngineParams struct {
	fx.In
	Config      *config.Config
	Clock       calendar.Clock
	Campaigns   *campaign.Service
	Enrollments *enrollment.Service
	CheckIns    checkin.Repository
	Redis       *redis.Client `optional:"true"`
}

func NewEngine(p EngineParams) *Engine {
	ttl := p.Config.Engagement.StatusCacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	var cache StatusCache
	if p.Redis != nil {
		cache = NewRedisCache(p.Redis, ttl)
	} else {
		cache = NewMemoryCache(ttl)
	}

	return &Engine{
		clock:       p.Clock,
		graceDays:   p.Config.Engagement.DropGraceDays,
		campaigns:   p.Campaigns.Repository(),
		enrollments: p.Enrollments,
		checkins:    p.CheckIns,
		cache:       cache,
	}
}

// WithCache swaps the status cache. Used by tests.
func (e *Engine) WithCache(c StatusCache) *Engine {
	e.cache = c
	return e
}

// GetStatus reports every enrolled tester's progress and the campaign-wide
// percentage as of today. Concurrent calls for the same campaign share one
// computation.
func (e *Engine) GetStatus(ctx context.Context, campaignID string) (*CampaignStatus, error) {
	today := e.clock.Today()
	key := rediskey.BuildCampaignStatusKey(campaignID, today.String())

	if v, ok := e.cache.Get(ctx, key); ok {
		return v, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		status, err := e.compute(ctx, campaignID, today)
		if err != nil {
			return nil, err
		}
		e.cache.Set(ctx, key, status)
		return status, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CampaignStatus), nil
}

// Invalidate drops every cached status of the campaign.
func (e *Engine) Invalidate(ctx context.Context, campaignID string) {
	e.cache.Invalidate(ctx, rediskey.BuildCampaignStatusKey(campaignID, ""))
}

func (e *Engine) compute(ctx context.Context, campaignID string, today calendar.Date) (*CampaignStatus, error) {
	zapLog := logger.FromContext(ctx).With(zap.String("campaign_id", campaignID))

	c, err := repository.RetryRead(ctx, "campaign.get", func(ctx context.Context) (*campaign.Campaign, error) {
		return e.campaigns.FindOne(ctx, &campaign.Campaign{ID: campaignID})
	})
	if err != nil {
		zapLog.Error("failed to load campaign", zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}
	if c == nil {
		return nil, campaign.ErrCampaignNotFound
	}

	enrollments, err := e.enrollments.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	checkIns, err := repository.RetryRead(ctx, "checkin.list_campaign", func(ctx context.Context) ([]*checkin.CheckIn, error) {
		return e.checkins.ListByCampaign(ctx, campaignID)
	})
	if err != nil {
		zapLog.Error("failed to load check-ins", zap.Error(err))
		return nil, errutil.Wrap(ErrStorage, err)
	}

	byTester := make(map[string][]*checkin.CheckIn, len(enrollments))
	for _, ci := range checkIns {
		byTester[ci.TesterID] = append(byTester[ci.TesterID], ci)
	}

	out := &CampaignStatus{
		CampaignID:     c.ID,
		AppName:        c.AppName,
		Status:         c.Status,
		RequiredDays:   c.RequiredDays,
		TesterCapacity: c.TesterCapacity,
		Date:           today,
		Testers:        make([]TesterStatus, 0, len(enrollments)),
	}

	var starts []calendar.Date
	for _, en := range enrollments {
		dates := CycleDates(byTester[en.TesterID], en.Cycle)
		a := Analyze(dates, today, en.Status == enrollment.StatusDropped, e.graceDays)
		if a.FirstCheckIn != nil {
			starts = append(starts, *a.FirstCheckIn)
		}
		out.Testers = append(out.Testers, TesterStatus{
			TesterID:         en.TesterID,
			EnrollmentStatus: en.Status,
			Cycle:            en.Cycle,
			CumulativePoints: en.CumulativePoints,
			Analysis:         a,
		})
	}
	out.ProgressPercent = CampaignProgress(starts, today, c.RequiredDays)

	return out, nil
}

// CycleDates returns the dates of the check-ins made in cycle, in the order
// given. Earlier cycles do not count toward a rejoined tester's streak.
func CycleDates(checkIns []*checkin.CheckIn, cycle int) []calendar.Date {
	out := make([]calendar.Date, 0, len(checkIns))
	for _, ci := range checkIns {
		if ci.Cycle == cycle {
			out = append(out, ci.CheckInDate)
		}
	}
	return out
}
