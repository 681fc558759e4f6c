package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/domain/repository"
	"github.com/edlume/subscription-backend/internal/domain/service"
	"github.com/edlume/subscription-backend/internal/infrastructure/logging"
)

// Task names
const (
	TypeExpireTrials    = "trial:expire"
	TypeFlagEndingSoon  = "trial:flag_ending"
	TypeNotifyTrialEnd  = "trial:notify"
	TypeCleanupWebhooks = "webhook:cleanup"
)

// How far ahead the ending-soon sweep looks.
const endingSoonWindow = 3 * 24 * time.Hour

// TaskHandlers holds dependencies for all task handlers.
type TaskHandlers struct {
	trials        *service.TrialService
	events        repository.WebhookEventRepository
	retentionDays int
	logger        *zap.Logger
}

// NewTaskHandlers creates task handlers with their service dependencies.
func NewTaskHandlers(trials *service.TrialService, events repository.WebhookEventRepository, retentionDays int) *TaskHandlers {
	return &TaskHandlers{
		trials:        trials,
		events:        events,
		retentionDays: retentionDays,
		logger:        logging.Logger,
	}
}

// RegisterHandlers registers all task handlers with the server mux.
func RegisterHandlers(mux *asynq.ServeMux, h *TaskHandlers) {
	mux.HandleFunc(TypeExpireTrials, h.HandleExpireTrials)
	mux.HandleFunc(TypeFlagEndingSoon, h.HandleFlagEndingSoon)
	mux.HandleFunc(TypeNotifyTrialEnd, h.HandleNotifyTrialEnd)
	mux.HandleFunc(TypeCleanupWebhooks, h.HandleCleanupWebhooks)
}

// RegisterScheduledTasks registers all scheduled (cron) tasks
func RegisterScheduledTasks(scheduler *asynq.Scheduler) {
	// Expire lapsed trials every 15 minutes
	_, err := scheduler.Register("*/15 * * * *", asynq.NewTask(TypeExpireTrials, nil))
	if err != nil {
		logging.Logger.Error("Failed to schedule trial expiry sweep", zap.Error(err))
	}

	// Flag trials ending soon once an hour
	_, err = scheduler.Register("0 * * * *", asynq.NewTask(TypeFlagEndingSoon, nil))
	if err != nil {
		logging.Logger.Error("Failed to schedule ending-soon sweep", zap.Error(err))
	}

	// Purge processed webhook events daily
	_, err = scheduler.Register("30 3 * * *", asynq.NewTask(TypeCleanupWebhooks, nil))
	if err != nil {
		logging.Logger.Error("Failed to schedule webhook cleanup", zap.Error(err))
	}
}

// HandleExpireTrials revokes entitlement for trials past their end date
func (h *TaskHandlers) HandleExpireTrials(ctx context.Context, t *asynq.Task) error {
	expired, err := h.trials.ExpireLapsedTrials(ctx)
	if err != nil {
		return fmt.Errorf("trial expiry sweep failed: %w", err)
	}
	if expired > 0 {
		h.logger.Info("Trials expired", zap.Int("count", expired))
	}
	return nil
}

// HandleFlagEndingSoon flags active trials inside the notification window
func (h *TaskHandlers) HandleFlagEndingSoon(ctx context.Context, t *asynq.Task) error {
	flagged, err := h.trials.FlagEndingTrials(ctx, endingSoonWindow)
	if err != nil {
		return fmt.Errorf("ending-soon sweep failed: %w", err)
	}
	if flagged > 0 {
		h.logger.Info("Trials flagged as ending soon", zap.Int("count", flagged))
	}
	return nil
}

// HandleNotifyTrialEnd delivers the trial-ending notice for one user
func (h *TaskHandlers) HandleNotifyTrialEnd(ctx context.Context, t *asynq.Task) error {
	var payload trialNoticePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	if _, err := uuid.Parse(payload.UserID); err != nil {
		return fmt.Errorf("invalid user_id: %w", err)
	}

	// Delivery requires mail credentials: SMTP_HOST, SMTP_USER, SMTP_PASSWORD.
	h.logger.Info("Trial ending notice requested (stub — no mail credentials configured)",
		zap.String("user_id", payload.UserID),
		zap.String("trial_end", payload.TrialEnd),
	)
	return nil
}

// HandleCleanupWebhooks purges processed webhook events past retention
func (h *TaskHandlers) HandleCleanupWebhooks(ctx context.Context, t *asynq.Task) error {
	cutoff := time.Now().AddDate(0, 0, -h.retentionDays)
	deleted, err := h.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("webhook cleanup failed: %w", err)
	}
	h.logger.Info("Webhook events purged",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted),
	)
	return nil
}

type trialNoticePayload struct {
	UserID   string `json:"user_id"`
	TrialEnd string `json:"trial_end"`
}

// TrialNotifyEnqueuer satisfies the reconciler's notifier by queueing a
// notification task instead of sending inline.
type TrialNotifyEnqueuer struct {
	client *asynq.Client
}

// NewTrialNotifyEnqueuer wraps an asynq client as a trial notifier.
func NewTrialNotifyEnqueuer(client *asynq.Client) *TrialNotifyEnqueuer {
	return &TrialNotifyEnqueuer{client: client}
}

// NotifyTrialEnding enqueues the trial-ending notice for a user.
func (e *TrialNotifyEnqueuer) NotifyTrialEnding(ctx context.Context, userID uuid.UUID, trialEnd time.Time) error {
	payload, err := json.Marshal(trialNoticePayload{
		UserID:   userID.String(),
		TrialEnd: trialEnd.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, asynq.NewTask(TypeNotifyTrialEnd, payload), asynq.Queue("default"))
	return err
}
