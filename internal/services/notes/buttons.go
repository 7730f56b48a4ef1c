package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grpmgr-tgbot-go/internal/models"
	"github.com/grpmgr-tgbot-go/internal/services/cache"
)

// Buttons maps opaque callback ids to note references. Telegram limits
// callback data to 64 bytes, so the note key itself is kept in the cache.
type Buttons struct {
	cache cache.Store
	ttl   time.Duration
}

func NewButtons(c cache.Store, ttl time.Duration) *Buttons {
	return &Buttons{cache: c, ttl: ttl}
}

func buttonKey(id string) string {
	return "btn:" + id
}

// Register stores a note reference and returns its callback id
func (b *Buttons) Register(ctx context.Context, chatID int64, noteKey string) (string, error) {
	data, err := json.Marshal(models.NoteButton{ChatID: chatID, NoteKey: NormalizeName(noteKey)})
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := b.cache.Set(ctx, buttonKey(id), data, b.ttl); err != nil {
		return "", fmt.Errorf("failed to register note button: %w", err)
	}
	return id, nil
}

// Resolve returns the note reference behind id
func (b *Buttons) Resolve(ctx context.Context, id string) (*models.NoteButton, bool, error) {
	data, found, err := b.cache.Get(ctx, buttonKey(id))
	if err != nil || !found {
		return nil, false, err
	}

	var ref models.NoteButton
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, false, fmt.Errorf("corrupt note button %s: %w", id, err)
	}
	return &ref, true, nil
}
