package middleware

import (
	"context"
	"fmt"

	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/grpmgr-tgbot-go/internal/services/cache"
	"github.com/sirupsen/logrus"
)

// Decision is the outcome of an admission check
type Decision int

const (
	Admitted Decision = iota
	Rejected
)

func (d Decision) String() string {
	if d == Rejected {
		return "rejected"
	}
	return "admitted"
}

// AdmissionRecorder receives admission outcomes
type AdmissionRecorder interface {
	RecordAdmission(decision Decision)
	RecordFailOpen()
}

// AntiFlood gates events per (chat, user). All state lives in the store, so
// several bot instances sharing one store enforce a single limit.
type AntiFlood struct {
	store    cache.Store
	defaults models.FloodSettings
	metrics  AdmissionRecorder
	logger   *logrus.Logger
}

// NewAntiFlood creates an admission controller. store must not serve stale
// values, so pass the shared tier rather than a local copy.
func NewAntiFlood(store cache.Store, defaults models.FloodSettings, metrics AdmissionRecorder, logger *logrus.Logger) *AntiFlood {
	return &AntiFlood{
		store:    store,
		defaults: defaults,
		metrics:  metrics,
		logger:   logger,
	}
}

func floodKey(chatID, userID int64) string {
	return fmt.Sprintf("flood:%d:%d", chatID, userID)
}

func suppressKey(chatID, userID int64) string {
	return fmt.Sprintf("flood:ign:%d:%d", chatID, userID)
}

// Admit decides whether an event from userID in chatID may be dispatched.
// Suppressed users are rejected without counting. Store failures admit.
func (a *AntiFlood) Admit(ctx context.Context, chatID, userID int64, settings models.FloodSettings) Decision {
	if err := settings.Validate(); err != nil {
		a.logger.WithError(err).WithField("chat_id", chatID).Debug("Invalid flood settings, using defaults")
		settings = a.defaults
	}

	decision, err := a.admit(ctx, chatID, userID, settings)
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"chat_id": chatID,
			"user_id": userID,
		}).Warn("Flood state unavailable, admitting event")
		if a.metrics != nil {
			a.metrics.RecordFailOpen()
		}
		decision = Admitted
	}

	if a.metrics != nil {
		a.metrics.RecordAdmission(decision)
	}
	return decision
}

func (a *AntiFlood) admit(ctx context.Context, chatID, userID int64, settings models.FloodSettings) (Decision, error) {
	ignKey := suppressKey(chatID, userID)

	_, suppressed, err := a.store.Get(ctx, ignKey)
	if err != nil {
		return Admitted, err
	}
	if suppressed {
		return Rejected, nil
	}

	key := floodKey(chatID, userID)
	count, err := a.store.IncrWithWindow(ctx, key, settings.Wait)
	if err != nil {
		return Admitted, err
	}
	if count <= int64(settings.Count) {
		return Admitted, nil
	}

	if err := a.store.Set(ctx, ignKey, []byte{1}, settings.Ignore); err != nil {
		return Admitted, err
	}
	// the next window starts from scratch once suppression ends
	if err := a.store.Expire(ctx, key); err != nil {
		a.logger.WithError(err).WithField("key", key).Warn("Failed to reset flood counter")
	}

	a.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"user_id": userID,
		"count":   count,
		"ignore":  settings.Ignore,
	}).Info("User suppressed for flooding")
	return Rejected, nil
}
