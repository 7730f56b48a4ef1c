package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/grpmgr-tgbot-go/internal/config"
	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Storage interface defines storage operations. Lookups of missing records
// return nil without an error.
type Storage interface {
	// Note operations
	GetNote(ctx context.Context, chatID int64, name string) (*models.Note, error)
	SaveNote(ctx context.Context, note *models.Note) error
	DeleteNote(ctx context.Context, chatID int64, name string) (bool, error)
	ListNotes(ctx context.Context, chatID int64) ([]string, error)

	// Settings operations
	GetSettings(ctx context.Context, chatID int64) (*models.ChatSettings, error)
	SaveSettings(ctx context.Context, settings *models.ChatSettings) error
}

// OperationRecorder receives the outcome of every storage operation
type OperationRecorder interface {
	RecordStorageOperation(operation, status string)
}

// Manager manages different storage backends
type Manager struct {
	storage Storage
	metrics OperationRecorder
	logger  *logrus.Logger
}

// NewManager creates a new storage manager. client is only used for the
// redis storage type; metrics may be nil.
func NewManager(cfg *config.Config, client *redis.Client, metrics OperationRecorder, logger *logrus.Logger) (*Manager, error) {
	var storage Storage

	switch cfg.Storage.Type {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis storage requires a redis client")
		}
		storage = NewRedisStorage(client, logger)
	case "memory":
		storage = NewMemoryStorage(cfg.Storage.Memory.CleanupInterval, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return &Manager{
		storage: storage,
		metrics: metrics,
		logger:  logger,
	}, nil
}

func (m *Manager) record(operation string, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordStorageOperation(operation, status)
}

// Delegate methods to underlying storage
func (m *Manager) GetNote(ctx context.Context, chatID int64, name string) (*models.Note, error) {
	note, err := m.storage.GetNote(ctx, chatID, name)
	m.record("get_note", err)
	return note, err
}

func (m *Manager) SaveNote(ctx context.Context, note *models.Note) error {
	err := m.storage.SaveNote(ctx, note)
	m.record("save_note", err)
	return err
}

func (m *Manager) DeleteNote(ctx context.Context, chatID int64, name string) (bool, error) {
	deleted, err := m.storage.DeleteNote(ctx, chatID, name)
	m.record("delete_note", err)
	return deleted, err
}

func (m *Manager) ListNotes(ctx context.Context, chatID int64) ([]string, error) {
	names, err := m.storage.ListNotes(ctx, chatID)
	m.record("list_notes", err)
	return names, err
}

func (m *Manager) GetSettings(ctx context.Context, chatID int64) (*models.ChatSettings, error) {
	settings, err := m.storage.GetSettings(ctx, chatID)
	m.record("get_settings", err)
	return settings, err
}

func (m *Manager) SaveSettings(ctx context.Context, settings *models.ChatSettings) error {
	err := m.storage.SaveSettings(ctx, settings)
	m.record("save_settings", err)
	return err
}

func noteKey(chatID int64, name string) string {
	return fmt.Sprintf("note:%d:%s", chatID, name)
}

func noteIndexKey(chatID int64) string {
	return fmt.Sprintf("notes:%d", chatID)
}

func settingsKey(chatID int64) string {
	return fmt.Sprintf("settings:%d", chatID)
}

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(client *redis.Client, logger *logrus.Logger) *RedisStorage {
	return &RedisStorage{
		client: client,
		logger: logger,
	}
}

func (r *RedisStorage) GetNote(ctx context.Context, chatID int64, name string) (*models.Note, error) {
	data, err := r.client.Get(ctx, noteKey(chatID, name)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var note models.Note
	if err := json.Unmarshal(data, &note); err != nil {
		return nil, err
	}

	return &note, nil
}

func (r *RedisStorage) SaveNote(ctx context.Context, note *models.Note) error {
	data, err := json.Marshal(note)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, noteKey(note.ChatID, note.Name), data, 0) // notes never expire
		pipe.SAdd(ctx, noteIndexKey(note.ChatID), note.Name)
		return nil
	})
	return err
}

func (r *RedisStorage) DeleteNote(ctx context.Context, chatID int64, name string) (bool, error) {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, noteKey(chatID, name))
		pipe.SRem(ctx, noteIndexKey(chatID), name)
		return nil
	})
	if err != nil {
		return false, err
	}
	return del.Val() > 0, nil
}

func (r *RedisStorage) ListNotes(ctx context.Context, chatID int64) ([]string, error) {
	names, err := r.client.SMembers(ctx, noteIndexKey(chatID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisStorage) GetSettings(ctx context.Context, chatID int64) (*models.ChatSettings, error) {
	data, err := r.client.Get(ctx, settingsKey(chatID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var settings models.ChatSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

func (r *RedisStorage) SaveSettings(ctx context.Context, settings *models.ChatSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, settingsKey(settings.ChatID), data, 0).Err() // No expiration for settings
}

// MemoryStorage implements storage using in-memory cache
type MemoryStorage struct {
	notes    *cache.Cache
	settings *cache.Cache
	logger   *logrus.Logger
}

func NewMemoryStorage(cleanupInterval time.Duration, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		notes:    cache.New(cache.NoExpiration, cleanupInterval),
		settings: cache.New(cache.NoExpiration, cleanupInterval),
		logger:   logger,
	}
}

func (m *MemoryStorage) GetNote(ctx context.Context, chatID int64, name string) (*models.Note, error) {
	if val, found := m.notes.Get(noteKey(chatID, name)); found {
		note := *val.(*models.Note)
		return &note, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveNote(ctx context.Context, note *models.Note) error {
	stored := *note
	m.notes.Set(noteKey(note.ChatID, note.Name), &stored, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) DeleteNote(ctx context.Context, chatID int64, name string) (bool, error) {
	key := noteKey(chatID, name)
	if _, found := m.notes.Get(key); !found {
		return false, nil
	}
	m.notes.Delete(key)
	return true, nil
}

func (m *MemoryStorage) ListNotes(ctx context.Context, chatID int64) ([]string, error) {
	prefix := noteKey(chatID, "")
	var names []string
	for key := range m.notes.Items() {
		if strings.HasPrefix(key, prefix) {
			names = append(names, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStorage) GetSettings(ctx context.Context, chatID int64) (*models.ChatSettings, error) {
	if val, found := m.settings.Get(settingsKey(chatID)); found {
		return copySettings(val.(*models.ChatSettings)), nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveSettings(ctx context.Context, settings *models.ChatSettings) error {
	m.settings.Set(settingsKey(settings.ChatID), copySettings(settings), cache.NoExpiration)
	return nil
}

func copySettings(s *models.ChatSettings) *models.ChatSettings {
	out := *s
	if s.Flood != nil {
		flood := *s.Flood
		out.Flood = &flood
	}
	return &out
}
