package engagement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"testerhub-engagement/pkg/taskname"
	"testerhub-engagement/services/campaign"
	"testerhub-engagement/services/enrollment"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type EvaluatePayload struct {
	CampaignID string `json:"campaign_id"`
	TesterID   string `json:"tester_id"`
}

type SweepPayload struct {
	CampaignID string `json:"campaign_id"`
}

// TaskHandler serves the engagement task types on an asynq server.
type TaskHandler struct {
	service *Service
}

func NewTaskHandler(svc *Service) *TaskHandler {
	return &TaskHandler{service: svc}
}

func registerTaskHandlers(mux *asynq.ServeMux, h *TaskHandler) {
	mux.HandleFunc(taskname.EnrollmentEvaluate, h.HandleEvaluate)
	mux.HandleFunc(taskname.CampaignSweep, h.HandleSweep)
}

func (h *TaskHandler) HandleEvaluate(ctx context.Context, t *asynq.Task) error {
	var p EvaluatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	_, err := h.service.Evaluate(ctx, p.CampaignID, p.TesterID)
	if errors.Is(err, enrollment.ErrEnrollmentNotFound) || errors.Is(err, campaign.ErrCampaignNotFound) {
		zap.L().Warn("evaluate target vanished", zap.String("campaign_id", p.CampaignID), zap.String("tester_id", p.TesterID))
		return nil
	}
	return err
}

func (h *TaskHandler) HandleSweep(ctx context.Context, t *asynq.Task) error {
	var p SweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	_, err := h.service.SweepCampaign(ctx, p.CampaignID)
	if errors.Is(err, campaign.ErrCampaignNotFound) {
		return nil
	}
	return err
}
