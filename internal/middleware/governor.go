package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/grpmgr-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// WaitRecorder receives time spent blocked on the governor
type WaitRecorder interface {
	RecordGovernorWait(d time.Duration)
}

type chatLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Governor paces outgoing messages per chat so one busy chat cannot exhaust
// the platform's send quota
type Governor struct {
	enabled     bool
	limiters    map[int64]*chatLimiter
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	idleTimeout time.Duration
	metrics     WaitRecorder
	logger      *logrus.Logger
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewGovernor creates a send governor and starts its cleanup loop
func NewGovernor(cfg config.GovernorConfig, metrics WaitRecorder, logger *logrus.Logger) *Governor {
	if !cfg.Enabled {
		return &Governor{enabled: false}
	}

	g := &Governor{
		enabled:     true,
		limiters:    make(map[int64]*chatLimiter),
		limit:       rate.Limit(cfg.MessagesPerSecond),
		burst:       cfg.Burst,
		idleTimeout: 10 * time.Minute,
		metrics:     metrics,
		logger:      logger,
		stop:        make(chan struct{}),
	}

	go g.cleanup(time.Minute)

	return g
}

// Wait blocks until chatID may send another message or ctx is done
func (g *Governor) Wait(ctx context.Context, chatID int64) error {
	if !g.enabled {
		return nil
	}

	start := time.Now()
	if err := g.getLimiter(chatID).Wait(ctx); err != nil {
		return err
	}

	waited := time.Since(start)
	if g.metrics != nil {
		g.metrics.RecordGovernorWait(waited)
	}
	if waited > time.Second {
		g.logger.WithFields(logrus.Fields{
			"chat_id": chatID,
			"waited":  waited,
		}).Debug("Outgoing message delayed by governor")
	}
	return nil
}

// Stop ends the cleanup loop
func (g *Governor) Stop() {
	if !g.enabled {
		return
	}
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *Governor) getLimiter(chatID int64) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	cl, exists := g.limiters[chatID]
	if !exists {
		cl = &chatLimiter{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.limiters[chatID] = cl
	}
	cl.lastSeen = time.Now()

	return cl.limiter
}

// cleanup removes limiters of chats that have been quiet for idleTimeout
func (g *Governor) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case now := <-ticker.C:
			g.evictIdle(now)
		}
	}
}

func (g *Governor) evictIdle(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	evicted := 0
	for chatID, cl := range g.limiters {
		if now.Sub(cl.lastSeen) > g.idleTimeout {
			delete(g.limiters, chatID)
			evicted++
		}
	}
	if evicted > 0 {
		g.logger.WithField("evicted", evicted).Debug("Removed idle chat limiters")
	}
	return evicted
}
