package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stagehand/internal/domain"
)

// InvokeRequest is the contract handed to the transformation worker.
type InvokeRequest struct {
	GenerationID   string `json:"generation_id"`
	PromptOverride string `json:"prompt_override,omitempty"`
	IsRefinement   bool   `json:"is_refinement,omitempty"`
}

// Invoker requests asynchronous processing of a generation. A returned
// error means the enqueueing itself failed, not that the eventual
// transformation did.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) error
}

// Dispatcher creates the authoritative generation record and hands it
// to the asynchronous worker.
type Dispatcher struct {
	gens    domain.GenerationRepository
	invoker Invoker
	logger  zerolog.Logger
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(gens domain.GenerationRepository, invoker Invoker, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{gens: gens, invoker: invoker, logger: logger}
}

// Dispatch inserts a queued generation for sourceRef and invokes the
// worker. When the invocation itself fails the generation is forced to
// failed in the authoritative store and ErrDispatchFailed is returned
// together with the (failed) record so the caller can reflect it
// locally; a batch caller must not abort sibling items over it.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, sourceRef string, params domain.GenerationParams) (*domain.Generation, error) {
	gen := &domain.Generation{
		ID:          uuid.NewString(),
		UserID:      userID,
		OriginalURL: sourceRef,
		Status:      domain.StatusQueued,
		Prompt:      params.Prompt,
		Style:       params.Style,
		Metadata:    params.Metadata(),
	}
	if err := d.gens.Create(ctx, gen); err != nil {
		return nil, err
	}

	req := InvokeRequest{GenerationID: gen.ID}
	if params.Refinement {
		req.PromptOverride = params.Prompt
		req.IsRefinement = true
	}
	if err := d.invoker.Invoke(ctx, req); err != nil {
		d.logger.Error().Err(err).Str("generation_id", gen.ID).Msg("dispatch: worker invocation failed")
		if uerr := d.gens.UpdateStatus(ctx, gen.ID, domain.StatusFailed, nil); uerr != nil {
			d.logger.Error().Err(uerr).Str("generation_id", gen.ID).Msg("dispatch: failed to mark generation failed")
		}
		gen.Status = domain.StatusFailed
		return gen, fmt.Errorf("%w: %v", domain.ErrDispatchFailed, err)
	}
	return gen, nil
}
