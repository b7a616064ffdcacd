package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/richjun-project/vibescan/internal/database/models"
	"gorm.io/gorm"
)

var (
	ErrUnknownEvent = errors.New("unknown webhook event type")
	ErrUnknownUser  = errors.New("webhook references unknown user")
)

// WebhookEvent is the normalized shape of a payment-provider event.
// Plan may be given directly or resolved through a BillingPlanMapping
// by ProviderPlanRef.
type WebhookEvent struct {
	Type              string    `json:"type"`
	UserID            uuid.UUID `json:"user_id"`
	Provider          string    `json:"provider"`
	ProviderPlanRef   string    `json:"provider_plan_ref,omitempty"`
	Plan              string    `json:"plan,omitempty"`
	Status            string    `json:"status,omitempty"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64     `json:"current_period_end,omitempty"`
	CustomerID        string    `json:"customer_id,omitempty"`
	SubscriptionID    string    `json:"subscription_id,omitempty"`
}

const (
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
)

type Service struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// ApplyWebhook upserts the user's subscription from a provider event.
// Quota limits are derived from the subscription lazily, so plan
// changes take effect when the next quota period is opened.
func (s *Service) ApplyWebhook(ctx context.Context, event WebhookEvent) error {
	switch event.Type {
	case EventSubscriptionUpdated, EventSubscriptionCanceled:
	default:
		return ErrUnknownEvent
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", event.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownUser
		}
		return fmt.Errorf("loading user: %w", err)
	}

	plan, err := s.resolvePlan(ctx, event)
	if err != nil {
		return err
	}

	status := models.SubscriptionStatus(event.Status)
	if event.Type == EventSubscriptionCanceled {
		status = models.SubscriptionCanceled
	}
	switch status {
	case models.SubscriptionActive, models.SubscriptionTrialing,
		models.SubscriptionPastDue, models.SubscriptionCanceled:
	default:
		status = models.SubscriptionActive
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		err := tx.Where("user_id = ?", event.UserID).First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sub = models.Subscription{UserID: event.UserID}
		} else if err != nil {
			return err
		}

		sub.Plan = plan
		sub.Status = status
		sub.CancelAtPeriodEnd = event.CancelAtPeriodEnd
		sub.CurrentPeriodEnd = event.CurrentPeriodEnd
		if event.CustomerID != "" {
			sub.ProviderCustomerID = event.CustomerID
		}
		if event.SubscriptionID != "" {
			sub.ProviderSubscriptionID = event.SubscriptionID
		}
		sub.UpdatedAt = time.Now()

		return tx.Save(&sub).Error
	})
	if err != nil {
		return fmt.Errorf("applying webhook: %w", err)
	}

	s.logger.Info("subscription updated",
		"user_id", event.UserID,
		"plan", plan,
		"status", status,
	)
	return nil
}

func (s *Service) resolvePlan(ctx context.Context, event WebhookEvent) (models.Plan, error) {
	if event.Plan != "" {
		return models.Plan(event.Plan), nil
	}
	if event.ProviderPlanRef == "" {
		return models.PlanFree, nil
	}

	var mapping models.BillingPlanMapping
	err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_plan_ref = ? AND is_active = ?",
			event.Provider, event.ProviderPlanRef, true).
		First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("no plan mapping for provider ref",
			"provider", event.Provider,
			"ref", event.ProviderPlanRef,
		)
		return models.PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving plan mapping: %w", err)
	}
	return mapping.InternalPlan, nil
}

// Subscription returns the user's subscription, or nil if none exists.
func (s *Service) Subscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
