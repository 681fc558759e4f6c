package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edlume/subscription-backend/internal/domain/entity"
	"github.com/edlume/subscription-backend/internal/domain/repository"
)

// TrialService runs the scheduled trial sweeps. Webhook events are the
// primary signal; the sweeps are the safety net for events the provider
// never delivered.
type TrialService struct {
	atomic      repository.Atomic
	invalidator StatusInvalidator
	notifier    TrialNotifier
	logger      *zap.Logger
}

// NewTrialService creates the trial sweep service.
func NewTrialService(atomic repository.Atomic, invalidator StatusInvalidator, notifier TrialNotifier, logger *zap.Logger) *TrialService {
	return &TrialService{
		atomic:      atomic,
		invalidator: invalidator,
		notifier:    notifier,
		logger:      logger,
	}
}

// ExpireLapsedTrials revokes access for users whose trial end date passed
// while they still hold trial access. Each user is handled in its own
// transaction so one failure does not roll back the rest of the sweep.
func (s *TrialService) ExpireLapsedTrials(ctx context.Context) (int, error) {
	var candidates []*entity.User
	err := s.atomic.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		candidates, err = r.Users.ListExpiredTrials(ctx, time.Now())
		return err
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range candidates {
		err := s.atomic.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
			user, err := r.Users.GetByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			// Re-check under lock; a payment event may have landed since the
			// listing.
			if user.TrialEndDate == nil || user.TrialEndDate.After(time.Now()) {
				return nil
			}
			switch user.TrialStatus {
			case entity.TrialActive, entity.TrialEndingSoon:
			default:
				return nil
			}
			user.ExpireTrial()
			return r.Users.UpdateEntitlement(ctx, user)
		})
		if err != nil {
			s.logger.Error("trial expiry failed",
				zap.String("user_id", candidate.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if s.invalidator != nil {
			s.invalidator.Invalidate(ctx, candidate.ID)
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("expired lapsed trials", zap.Int("count", expired))
	}
	return expired, nil
}

// FlagEndingTrials marks active trials that end within the window and
// schedules their notifications.
func (s *TrialService) FlagEndingTrials(ctx context.Context, window time.Duration) (int, error) {
	deadline := time.Now().Add(window)

	var candidates []*entity.User
	err := s.atomic.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		candidates, err = r.Users.ListTrialsEndingBefore(ctx, deadline)
		return err
	})
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, candidate := range candidates {
		err := s.atomic.WithinTx(ctx, func(ctx context.Context, r repository.Repositories) error {
			user, err := r.Users.GetByIDForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if user.TrialStatus != entity.TrialActive || user.TrialEndDate == nil {
				return nil
			}
			user.MarkTrialEnding()
			if err := r.Users.UpdateEntitlement(ctx, user); err != nil {
				return err
			}
			if s.notifier != nil {
				if err := s.notifier.NotifyTrialEnding(ctx, user.ID, *user.TrialEndDate); err != nil {
					s.logger.Error("failed to schedule trial-ending notification",
						zap.String("user_id", user.ID.String()),
						zap.Error(err),
					)
				}
			}
			return nil
		})
		if err != nil {
			s.logger.Error("trial flagging failed",
				zap.String("user_id", candidate.ID.String()),
				zap.Error(err),
			)
			continue
		}
		flagged++
	}
	return flagged, nil
}
