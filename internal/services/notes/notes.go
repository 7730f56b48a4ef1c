package notes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/grpmgr-tgbot-go/internal/services/cache"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the note service reads through to
type Store interface {
	GetNote(ctx context.Context, chatID int64, name string) (*models.Note, error)
	SaveNote(ctx context.Context, note *models.Note) error
	DeleteNote(ctx context.Context, chatID int64, name string) (bool, error)
	ListNotes(ctx context.Context, chatID int64) ([]string, error)
}

// Service resolves notes through the cache, falling back to the store on a
// miss. Cache failures are logged and never fail a lookup on their own.
type Service struct {
	cache  cache.Store
	store  Store
	ttl    time.Duration
	logger *logrus.Logger
}

// NewService creates a note service. ttl is how long note sources stay cached.
func NewService(c cache.Store, store Store, ttl time.Duration, logger *logrus.Logger) *Service {
	return &Service{
		cache:  c,
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// NormalizeName maps user input such as "#Rules " to the stored key "rules"
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "#")
	return strings.ToLower(name)
}

func cacheKey(chatID int64, name string) string {
	return fmt.Sprintf("note:%d:%s", chatID, name)
}

// Lookup returns the formatting-language source of the note name in chatID
func (s *Service) Lookup(ctx context.Context, chatID int64, name string) (string, bool, error) {
	name = NormalizeName(name)
	if name == "" {
		return "", false, nil
	}
	key := cacheKey(chatID, name)

	val, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Note cache unavailable, reading from storage")
	} else if found {
		return string(val), true, nil
	}

	note, err := s.store.GetNote(ctx, chatID, name)
	if err != nil {
		return "", false, fmt.Errorf("failed to load note %q: %w", name, err)
	}
	if note == nil {
		return "", false, nil
	}

	if err := s.cache.Set(ctx, key, []byte(note.Source), s.ttl); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to cache note")
	}
	return note.Source, true, nil
}

// Save stores a note and invalidates its cached copy
func (s *Service) Save(ctx context.Context, note *models.Note) error {
	note.Name = NormalizeName(note.Name)
	if note.Name == "" {
		return fmt.Errorf("note name is required")
	}
	if note.UpdatedAt.IsZero() {
		note.UpdatedAt = time.Now()
	}

	if err := s.store.SaveNote(ctx, note); err != nil {
		return fmt.Errorf("failed to save note %q: %w", note.Name, err)
	}
	s.invalidate(ctx, note.ChatID, note.Name)

	s.logger.WithFields(logrus.Fields{
		"chat_id": note.ChatID,
		"note":    note.Name,
	}).Info("Note saved")
	return nil
}

// Delete removes a note, reporting whether it existed
func (s *Service) Delete(ctx context.Context, chatID int64, name string) (bool, error) {
	name = NormalizeName(name)
	deleted, err := s.store.DeleteNote(ctx, chatID, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete note %q: %w", name, err)
	}
	s.invalidate(ctx, chatID, name)
	return deleted, nil
}

// List returns the sorted note names of a chat
func (s *Service) List(ctx context.Context, chatID int64) ([]string, error) {
	return s.store.ListNotes(ctx, chatID)
}

func (s *Service) invalidate(ctx context.Context, chatID int64, name string) {
	if err := s.cache.Expire(ctx, cacheKey(chatID, name)); err != nil {
		s.logger.WithError(err).WithField("note", name).Warn("Failed to invalidate cached note")
	}
}
