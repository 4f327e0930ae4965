// Package push consumes the row-level change feed for generation
// records and feeds it into the reconciler's merge loop. It is the
// engine's push channel: whichever of push or poll observes a
// transition first wins, the other becomes a no-op.
package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"stagehand/internal/adapter/cache"
	"stagehand/internal/domain"
	"stagehand/internal/engine"
)

const channelName = "generations_changes"

// changeEvent mirrors the trigger payload in migrations/0001_init.sql.
type changeEvent struct {
	Kind         string         `json:"kind"` // insert, update, delete
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Status       string         `json:"status"`
	OriginalURL  string         `json:"original_url"`
	GeneratedURL string         `json:"generated_url"`
	Style        string         `json:"style"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Listener holds one LISTEN connection and fans decoded events into the
// reconciler, scoped to watched users. Delete events are not consumed.
type Listener struct {
	pool       *pgxpool.Pool
	reconciler *engine.Reconciler
	statuses   *cache.StatusCache
	logger     zerolog.Logger

	mu      sync.Mutex
	watched map[string]struct{}
}

// NewListener wires the push channel. statuses may be nil; when set,
// every observed snapshot is written through so the poll reader can
// serve from cache.
func NewListener(pool *pgxpool.Pool, rec *engine.Reconciler, statuses *cache.StatusCache, logger zerolog.Logger) *Listener {
	return &Listener{
		pool:       pool,
		reconciler: rec,
		statuses:   statuses,
		logger:     logger,
		watched:    make(map[string]struct{}),
	}
}

// Watch scopes the subscription to the given user. Events for users
// nobody watches are dropped.
func (l *Listener) Watch(userID string) {
	l.mu.Lock()
	l.watched[userID] = struct{}{}
	l.mu.Unlock()
}

// Unwatch removes a user's scope, e.g. when their session ends.
func (l *Listener) Unwatch(userID string) {
	l.mu.Lock()
	delete(l.watched, userID)
	l.mu.Unlock()
}

func (l *Listener) watches(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.watched[userID]
	return ok
}

// Run listens until ctx is cancelled, reconnecting with backoff after
// connection failures. The push channel has no lifetime ceiling; it is
// torn down only with the process.
func (l *Listener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.listen(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("push: listener disconnected")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+channelName); err != nil {
		return err
	}
	l.logger.Info().Str("channel", channelName).Msg("push: listening")

	for {
		note, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(ctx, note.Payload)
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	var ev changeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		l.logger.Warn().Err(err).Msg("push: undecodable payload")
		return
	}
	if ev.Kind != "insert" && ev.Kind != "update" {
		return // the engine only consumes inserts and updates
	}
	if !l.watches(ev.UserID) {
		return
	}

	status := domain.GenerationStatus(ev.Status)
	if l.statuses != nil {
		if err := l.statuses.Set(ctx, ev.ID, domain.StatusSnapshot{Status: status, GeneratedURL: ev.GeneratedURL}); err != nil {
			l.logger.Debug().Err(err).Str("generation_id", ev.ID).Msg("push: cache write failed")
		}
	}

	rec := &domain.Generation{
		ID:           ev.ID,
		UserID:       ev.UserID,
		OriginalURL:  ev.OriginalURL,
		GeneratedURL: ev.GeneratedURL,
		Status:       status,
		Style:        ev.Style,
		Metadata:     ev.Metadata,
		CreatedAt:    ev.CreatedAt,
		UpdatedAt:    ev.UpdatedAt,
	}
	l.reconciler.Submit(engine.Update{
		GenerationID: ev.ID,
		UserID:       ev.UserID,
		Status:       status,
		GeneratedURL: ev.GeneratedURL,
		Record:       rec,
		Source:       engine.SourcePush,
	})
}
