package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"stagehand/internal/domain"
	"stagehand/internal/i18n"
)

// Notifier surfaces user-visible outcomes. Implementations decide the
// transport (toast feed, log, SSE); the engine decides when to call.
type Notifier interface {
	GenerationCompleted(ctx context.Context, gen *domain.Generation)
	GenerationFailed(ctx context.Context, gen *domain.Generation)
	BatchFinished(ctx context.Context, userID string, total, completed int)
}

// Notice is one human-readable notification.
type Notice struct {
	UserID  string `json:"user_id"`
	Level   string `json:"level"` // success or error
	Message string `json:"message"`
}

// FeedNotifier localizes outcomes and retains a bounded per-user feed
// that the HTTP surface drains; everything is also logged.
type FeedNotifier struct {
	locale string
	logger zerolog.Logger

	mu     sync.Mutex
	byUser map[string][]Notice
}

const feedLimit = 50

// NewFeedNotifier builds a notifier rendering messages in locale.
func NewFeedNotifier(locale string, logger zerolog.Logger) *FeedNotifier {
	return &FeedNotifier{locale: locale, logger: logger, byUser: make(map[string][]Notice)}
}

func (n *FeedNotifier) GenerationCompleted(ctx context.Context, gen *domain.Generation) {
	n.push(Notice{UserID: gen.UserID, Level: "success", Message: i18n.T(n.locale, i18n.MsgGenerationCompleted)})
	n.logger.Info().Str("generation_id", gen.ID).Str("user_id", gen.UserID).Msg("notify: generation completed")
}

func (n *FeedNotifier) GenerationFailed(ctx context.Context, gen *domain.Generation) {
	n.push(Notice{UserID: gen.UserID, Level: "error", Message: i18n.T(n.locale, i18n.MsgGenerationFailed)})
	n.logger.Info().Str("generation_id", gen.ID).Str("user_id", gen.UserID).Msg("notify: generation failed")
}

func (n *FeedNotifier) BatchFinished(ctx context.Context, userID string, total, completed int) {
	n.push(Notice{UserID: userID, Level: "success", Message: i18n.T(n.locale, i18n.MsgBatchFinished, total, completed)})
	n.logger.Info().Str("user_id", userID).Int("total", total).Int("completed", completed).Msg("notify: batch finished")
}

// Drain returns and clears the user's pending notices.
func (n *FeedNotifier) Drain(userID string) []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.byUser[userID]
	delete(n.byUser, userID)
	return out
}

func (n *FeedNotifier) push(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	feed := append(n.byUser[notice.UserID], notice)
	if len(feed) > feedLimit {
		feed = feed[len(feed)-feedLimit:]
	}
	n.byUser[notice.UserID] = feed
}
