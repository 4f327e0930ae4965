package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"stagehand/internal/domain"
)

// Engine is the submission and reconciliation facade: quota admission,
// upload with fallback, dispatch, and dual-channel status convergence
// behind one handle. Construct it once per process and keep it running
// for the process lifetime.
type Engine struct {
	profiles   *ProfileCache
	uploader   *Uploader
	dispatcher *Dispatcher
	reconciler *Reconciler
	view       *View
	notifier   Notifier
	gens       domain.GenerationRepository
	logger     zerolog.Logger
	batchLimit int
}

// Options collects the engine's collaborators.
type Options struct {
	Generations domain.GenerationRepository
	Profiles    domain.ProfileRepository
	Reader      domain.StatusReader
	Store       ObjectStore
	Invoker     Invoker
	Notifier    Notifier
	Logger      zerolog.Logger
	Reconciler  ReconcilerConfig
	// BatchConcurrency caps concurrently running batch pipelines;
	// zero means unbounded. Purely a resource knob, the observable
	// semantics do not change.
	BatchConcurrency int
}

// New assembles an engine. Run must be called before submissions.
func New(opts Options) *Engine {
	view := NewView()
	profiles := NewProfileCache(opts.Profiles)
	e := &Engine{
		profiles:   profiles,
		uploader:   NewUploader(opts.Store, opts.Logger),
		dispatcher: NewDispatcher(opts.Generations, opts.Invoker, opts.Logger),
		view:       view,
		notifier:   opts.Notifier,
		gens:       opts.Generations,
		logger:     opts.Logger,
		batchLimit: opts.BatchConcurrency,
	}
	e.reconciler = NewReconciler(view, opts.Reader, profiles, opts.Notifier, opts.Logger, opts.Reconciler)
	return e
}

// Run starts the reconciler's merge loop and blocks until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	e.reconciler.Run(ctx)
}

// View exposes the local authoritative job view for readers.
func (e *Engine) View() *View {
	return e.view
}

// Reconciler exposes the merge loop for push-channel producers.
func (e *Engine) Reconciler() *Reconciler {
	return e.reconciler
}

// Profile returns the cached profile, loading it on first use.
func (e *Engine) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	return e.profiles.Get(ctx, userID)
}

// RefreshProfile forces an authoritative profile re-read.
func (e *Engine) RefreshProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return e.profiles.Refresh(ctx, userID)
}

// Submit runs one photo through the full pipeline: admission, upload
// with fallback, dispatch, and reconciliation tracking. progress may be
// nil. The returned generation reflects dispatch-time state; subsequent
// progress arrives through the view.
func (e *Engine) Submit(ctx context.Context, userID string, asset Asset, params domain.GenerationParams, progress ProgressFunc) (*domain.Generation, error) {
	prof, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if err := Admit(prof.GenerationCount, prof.Ceiling(), 1); err != nil {
		return nil, err
	}

	ref, err := e.uploader.Upload(ctx, userID, asset, progress)
	if err != nil {
		return nil, err
	}

	gen, err := e.dispatcher.Dispatch(ctx, userID, ref, params)
	if gen != nil {
		// Track even a dispatch-time failure so the local view shows
		// the failed record; no poll loop starts for terminal states.
		e.reconciler.Track(gen)
	}
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// Refine re-runs a completed generation with a prompt override. The
// source record stays immutable; the refinement is a fresh generation
// linked back via metadata and tracked as its own lifecycle.
func (e *Engine) Refine(ctx context.Context, userID, generationID, prompt string) (*domain.Generation, error) {
	src, err := e.gens.GetByID(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if src.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	if src.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: refinement requires a completed generation", domain.ErrInvalidAsset)
	}

	prof, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if err := Admit(prof.GenerationCount, prof.Ceiling(), 1); err != nil {
		return nil, err
	}

	mode := domain.ModeStaging
	if m, _ := src.Metadata["mode"].(string); m == string(domain.ModeRemoval) {
		mode = domain.ModeRemoval
	}
	params := domain.GenerationParams{
		Mode:       mode,
		Style:      src.Style,
		Prompt:     prompt,
		Refinement: true,
		RefinesID:  src.ID,
	}
	gen, err := e.dispatcher.Dispatch(ctx, userID, src.GeneratedURL, params)
	if gen != nil {
		e.reconciler.Track(gen)
	}
	if err != nil {
		return nil, err
	}
	return gen, nil
}
