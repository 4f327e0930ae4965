package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stagehand/internal/domain"
)

// Source identifies which channel produced an update.
type Source string

const (
	SourcePush     Source = "push"
	SourcePoll     Source = "poll"
	SourceDispatch Source = "dispatch"
)

// Update is one observation of a generation's authoritative state.
// Record is set when the producer holds the full row (dispatch, push
// inserts); status-only producers (the poll loop) leave it nil.
type Update struct {
	GenerationID string
	UserID       string
	Status       domain.GenerationStatus
	GeneratedURL string
	Record       *domain.Generation
	Source       Source
}

// ReconcilerConfig bounds the per-generation poll loop. Zero values
// take the production defaults (2s interval, 5min ceiling).
type ReconcilerConfig struct {
	PollInterval time.Duration
	PollCeiling  time.Duration
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollCeiling <= 0 {
		c.PollCeiling = 5 * time.Minute
	}
	return c
}

// Reconciler merges updates from the push channel and the poll loops
// into the local view. It is the view's only writer: all producers
// feed one channel and a single goroutine applies the merge rule, so
// final-state correctness does not depend on producer interleaving.
//
// Merge rule: an update is applied only if its status rank is not below
// the locally held rank and the local status is non-terminal. The two
// terminal states share a rank, so the first one observed wins and the
// channels commute.
type Reconciler struct {
	view     *View
	reader   domain.StatusReader
	profiles *ProfileCache
	notifier Notifier
	logger   zerolog.Logger
	cfg      ReconcilerConfig

	updates chan Update

	mu      sync.Mutex
	baseCtx context.Context
	polls   map[string]context.CancelFunc
}

// NewReconciler wires the reconciler's collaborators.
func NewReconciler(view *View, reader domain.StatusReader, profiles *ProfileCache, notifier Notifier, logger zerolog.Logger, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		view:     view,
		reader:   reader,
		profiles: profiles,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		updates:  make(chan Update, 256),
		polls:    make(map[string]context.CancelFunc),
	}
}

// Run consumes updates until ctx is cancelled. It must be running
// before any generation is tracked.
func (r *Reconciler) Run(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			r.stopAllPolls()
			return
		case u := <-r.updates:
			r.apply(ctx, u)
		}
	}
}

// Submit feeds an update from a producer into the merge loop.
func (r *Reconciler) Submit(u Update) {
	r.updates <- u
}

// Track registers a freshly dispatched generation in the view and, if
// it is not already terminal (dispatch-time failure), starts its poll
// loop. At most one poll loop runs per generation.
func (r *Reconciler) Track(gen *domain.Generation) {
	cp := *gen
	r.Submit(Update{
		GenerationID: cp.ID,
		UserID:       cp.UserID,
		Status:       cp.Status,
		GeneratedURL: cp.GeneratedURL,
		Record:       &cp,
		Source:       SourceDispatch,
	})
	if !cp.Status.Terminal() {
		r.startPoll(cp.ID, cp.UserID)
	}
}

// PollActive reports whether a poll loop is live for the generation.
func (r *Reconciler) PollActive(generationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.polls[generationID]
	return ok
}

func (r *Reconciler) apply(ctx context.Context, u Update) {
	cur, known := r.view.Get(u.GenerationID)
	if !known {
		// Poll echoes for records we never tracked are dropped; only a
		// full record (dispatch, push insert) can introduce one.
		if u.Record == nil {
			return
		}
		r.view.Upsert(*u.Record)
		if u.Record.Status.Terminal() {
			r.finalize(ctx, *u.Record, u.Source)
		}
		return
	}

	if cur.Status.Terminal() {
		return // immutable; staleness is never an error
	}
	if !u.Status.Valid() || u.Status.Rank() < cur.Status.Rank() {
		return // stale update, silently dropped
	}

	// Same-rank re-application is idempotent and may refine fields.
	cur.Status = u.Status
	if u.GeneratedURL != "" {
		cur.GeneratedURL = u.GeneratedURL
	}
	if u.Record != nil {
		if u.Record.GeneratedURL != "" {
			cur.GeneratedURL = u.Record.GeneratedURL
		}
		if !u.Record.UpdatedAt.IsZero() {
			cur.UpdatedAt = u.Record.UpdatedAt
		}
	}
	r.view.Upsert(cur)

	if cur.Status.Terminal() {
		r.stopPoll(cur.ID)
		r.finalize(ctx, cur, u.Source)
	}
}

// finalize runs the terminal-status side effects. Dispatch-sourced
// failures are surfaced synchronously to the submitting caller, so the
// notifier is skipped for them; batch members are left to the batch
// coordinator's aggregate notice.
func (r *Reconciler) finalize(ctx context.Context, gen domain.Generation, src Source) {
	switch gen.Status {
	case domain.StatusCompleted:
		if _, err := r.profiles.Refresh(ctx, gen.UserID); err != nil {
			r.logger.Warn().Err(err).Str("user_id", gen.UserID).Msg("reconcile: profile refresh failed")
		}
		if r.notifier != nil && !gen.IsBatch() {
			r.notifier.GenerationCompleted(ctx, &gen)
		}
	case domain.StatusFailed:
		if r.notifier != nil && !gen.IsBatch() && src != SourceDispatch {
			r.notifier.GenerationFailed(ctx, &gen)
		}
	}
}

// startPoll launches the bounded re-read loop for one generation.
func (r *Reconciler) startPoll(generationID, userID string) {
	r.mu.Lock()
	if _, exists := r.polls[generationID]; exists {
		r.mu.Unlock()
		return
	}
	base := r.baseCtx
	if base == nil {
		base = context.Background()
	}
	pctx, cancel := context.WithCancel(base)
	r.polls[generationID] = cancel
	r.mu.Unlock()

	go r.poll(pctx, generationID, userID)
}

func (r *Reconciler) poll(ctx context.Context, generationID, userID string) {
	defer r.stopPoll(generationID)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	ceiling := time.NewTimer(r.cfg.PollCeiling)
	defer ceiling.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ceiling.C:
			// Hitting the ceiling silences the poll loop only; the job
			// stays non-terminal and push updates still apply.
			r.logger.Debug().Str("generation_id", generationID).Msg("reconcile: poll ceiling reached")
			return
		case <-ticker.C:
			snap, err := r.reader.ReadStatus(ctx, generationID)
			if err != nil {
				r.logger.Debug().Err(err).Str("generation_id", generationID).Msg("reconcile: poll read failed")
				continue
			}
			r.Submit(Update{
				GenerationID: generationID,
				UserID:       userID,
				Status:       snap.Status,
				GeneratedURL: snap.GeneratedURL,
				Source:       SourcePoll,
			})
			if snap.Status.Terminal() {
				return
			}
		}
	}
}

func (r *Reconciler) stopPoll(generationID string) {
	r.mu.Lock()
	cancel, ok := r.polls[generationID]
	if ok {
		delete(r.polls, generationID)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *Reconciler) stopAllPolls() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.polls))
	for id, cancel := range r.polls {
		cancels = append(cancels, cancel)
		delete(r.polls, id)
	}
	r.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
