package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"stagehand/internal/domain"
)

func TestDispatchCreatesQueuedAndInvokes(t *testing.T) {
	gens := newFakeGens()
	invoker := &fakeInvoker{}
	d := NewDispatcher(gens, invoker, zerolog.Nop())

	gen, err := d.Dispatch(context.Background(), "user-1", "https://cdn.example/x.jpg", domain.GenerationParams{
		Mode:  domain.ModeStaging,
		Style: "modern",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gen.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want queued", gen.Status)
	}
	if len(invoker.calls) != 1 || invoker.calls[0].GenerationID != gen.ID {
		t.Fatalf("worker not invoked for %s: %+v", gen.ID, invoker.calls)
	}
	if invoker.calls[0].IsRefinement {
		t.Fatal("plain dispatch must not be flagged as refinement")
	}
	stored, err := gens.GetByID(context.Background(), gen.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Metadata["mode"] != "staging" {
		t.Fatalf("metadata missing mode: %v", stored.Metadata)
	}
}

func TestDispatchQuotaRejectionCreatesNothing(t *testing.T) {
	gens := newFakeGens()
	gens.createErr = domain.ErrQuotaExceeded
	d := NewDispatcher(gens, &fakeInvoker{}, zerolog.Nop())

	gen, err := d.Dispatch(context.Background(), "user-1", "ref", domain.GenerationParams{})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded", err)
	}
	if gen != nil {
		t.Fatal("no record must exist after a quota rejection")
	}
}

func TestDispatchInvokeFailureMarksFailed(t *testing.T) {
	gens := newFakeGens()
	invoker := &fakeInvoker{err: errors.New("broker down")}
	d := NewDispatcher(gens, invoker, zerolog.Nop())

	gen, err := d.Dispatch(context.Background(), "user-1", "ref", domain.GenerationParams{})
	if !errors.Is(err, domain.ErrDispatchFailed) {
		t.Fatalf("got %v, want ErrDispatchFailed", err)
	}
	if gen == nil || gen.Status != domain.StatusFailed {
		t.Fatalf("caller must receive the failed record, got %+v", gen)
	}
	stored, _ := gens.GetByID(context.Background(), gen.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("authoritative record is %s, want failed", stored.Status)
	}
}

func TestDispatchRefinementCarriesOverride(t *testing.T) {
	gens := newFakeGens()
	invoker := &fakeInvoker{}
	d := NewDispatcher(gens, invoker, zerolog.Nop())

	_, err := d.Dispatch(context.Background(), "user-1", "ref", domain.GenerationParams{
		Prompt:     "ソファを青に",
		Refinement: true,
		RefinesID:  "src-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	req := invoker.calls[0]
	if !req.IsRefinement || req.PromptOverride != "ソファを青に" {
		t.Fatalf("refinement flags not carried: %+v", req)
	}
}
