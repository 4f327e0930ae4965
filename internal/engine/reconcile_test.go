package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stagehand/internal/domain"
)

type reconcilerRig struct {
	rec      *Reconciler
	view     *View
	gens     *fakeGens
	profiles *fakeProfiles
	notifier *fakeNotifier
}

func newReconcilerRig(t *testing.T, cfg ReconcilerConfig) *reconcilerRig {
	t.Helper()
	view := NewView()
	gens := newFakeGens()
	profiles := &fakeProfiles{profile: domain.Profile{PlanType: domain.PlanBasic}}
	notifier := &fakeNotifier{}
	rec := NewReconciler(view, gens, NewProfileCache(profiles), notifier, zerolog.Nop(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)
	t.Cleanup(cancel)
	return &reconcilerRig{rec: rec, view: view, gens: gens, profiles: profiles, notifier: notifier}
}

func fastPoll() ReconcilerConfig {
	return ReconcilerConfig{PollInterval: 5 * time.Millisecond, PollCeiling: 250 * time.Millisecond}
}

func queuedGen(id string) *domain.Generation {
	now := time.Now().UTC()
	return &domain.Generation{
		ID:          id,
		UserID:      "user-1",
		OriginalURL: "https://cdn.example/originals/user-1/" + id + ".jpg",
		Status:      domain.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *reconcilerRig) track(t *testing.T, gen *domain.Generation) {
	t.Helper()
	// Store the record so poll loops have something to re-read.
	if err := r.gens.Create(context.Background(), gen); err != nil {
		t.Fatal(err)
	}
	r.rec.Track(gen)
	waitFor(t, func() bool {
		_, ok := r.view.Get(gen.ID)
		return ok
	})
}

func update(id string, status domain.GenerationStatus, url string, src Source) Update {
	return Update{GenerationID: id, UserID: "user-1", Status: status, GeneratedURL: url, Source: src}
}

func TestMergeConvergesUnderAnyInterleaving(t *testing.T) {
	seqs := [][]Update{
		{
			update("g", domain.StatusProcessing, "", SourcePush),
			update("g", domain.StatusCompleted, "https://cdn.example/out.png", SourcePoll),
			update("g", domain.StatusQueued, "", SourcePoll),
		},
		{
			update("g", domain.StatusCompleted, "https://cdn.example/out.png", SourcePush),
			update("g", domain.StatusProcessing, "", SourcePoll),
			update("g", domain.StatusQueued, "", SourcePush),
		},
		{
			update("g", domain.StatusQueued, "", SourcePoll),
			update("g", domain.StatusProcessing, "", SourcePush),
			update("g", domain.StatusCompleted, "https://cdn.example/out.png", SourcePoll),
		},
		{
			update("g", domain.StatusProcessing, "", SourcePoll),
			update("g", domain.StatusProcessing, "", SourcePush),
			update("g", domain.StatusCompleted, "https://cdn.example/out.png", SourcePush),
		},
	}
	for i, seq := range seqs {
		rig := newReconcilerRig(t, ReconcilerConfig{PollCeiling: time.Hour, PollInterval: time.Hour})
		rig.track(t, queuedGen("g"))
		for _, u := range seq {
			rig.rec.Submit(u)
		}
		waitFor(t, func() bool {
			g, ok := rig.view.Get("g")
			return ok && g.Status == domain.StatusCompleted
		})
		g, _ := rig.view.Get("g")
		if g.GeneratedURL != "https://cdn.example/out.png" {
			t.Fatalf("seq %d: generated URL not retained: %+v", i, g)
		}
	}
}

func TestFirstTerminalWins(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{PollCeiling: time.Hour, PollInterval: time.Hour})
	rig.track(t, queuedGen("g"))

	rig.rec.Submit(update("g", domain.StatusFailed, "", SourcePush))
	waitFor(t, func() bool {
		g, _ := rig.view.Get("g")
		return g.Status == domain.StatusFailed
	})

	rig.rec.Submit(update("g", domain.StatusCompleted, "https://cdn.example/late.png", SourcePoll))
	// A later equal-rank terminal must not flip the outcome.
	time.Sleep(20 * time.Millisecond)
	g, _ := rig.view.Get("g")
	if g.Status != domain.StatusFailed || g.GeneratedURL != "" {
		t.Fatalf("terminal state was mutated: %+v", g)
	}
	if rig.notifier.failedCount() != 1 || rig.notifier.completedCount() != 0 {
		t.Fatalf("expected exactly one failure notice, got %d/%d",
			rig.notifier.failedCount(), rig.notifier.completedCount())
	}
}

func TestCompletedRefreshesProfileExactlyOnce(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{PollCeiling: time.Hour, PollInterval: time.Hour})
	rig.track(t, queuedGen("g"))
	base := rig.profiles.readCount()

	rig.rec.Submit(update("g", domain.StatusCompleted, "https://cdn.example/out.png", SourcePush))
	rig.rec.Submit(update("g", domain.StatusCompleted, "https://cdn.example/out.png", SourcePush))
	waitFor(t, func() bool { return rig.notifier.completedCount() == 1 })

	time.Sleep(20 * time.Millisecond)
	if got := rig.profiles.readCount() - base; got != 1 {
		t.Fatalf("profile refreshed %d times, want 1", got)
	}
	if rig.notifier.completedCount() != 1 {
		t.Fatalf("duplicate completion notices: %d", rig.notifier.completedCount())
	}
}

func TestPollObservesTerminalAndStops(t *testing.T) {
	rig := newReconcilerRig(t, fastPoll())
	gen := queuedGen("g")
	rig.track(t, gen)
	if !rig.rec.PollActive("g") {
		t.Fatal("poll loop must start for a non-terminal dispatch")
	}

	url := "https://cdn.example/out.png"
	if err := rig.gens.UpdateStatus(context.Background(), "g", domain.StatusCompleted, &url); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		g, _ := rig.view.Get("g")
		return g.Status == domain.StatusCompleted && g.GeneratedURL == url
	})
	waitFor(t, func() bool { return !rig.rec.PollActive("g") })
	if rig.notifier.completedCount() != 1 {
		t.Fatalf("expected one completion notice, got %d", rig.notifier.completedCount())
	}
}

func TestPollCeilingExpiresSilently(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{PollInterval: 5 * time.Millisecond, PollCeiling: 40 * time.Millisecond})
	rig.track(t, queuedGen("g"))

	waitFor(t, func() bool { return !rig.rec.PollActive("g") })

	g, _ := rig.view.Get("g")
	if g.Status != domain.StatusQueued {
		t.Fatalf("ceiling expiry must not change the job, got %s", g.Status)
	}
	if rig.notifier.failedCount() != 0 {
		t.Fatal("ceiling expiry must not notify a failure")
	}

	// The push channel keeps working after the poll went silent.
	rig.rec.Submit(update("g", domain.StatusCompleted, "https://cdn.example/out.png", SourcePush))
	waitFor(t, func() bool {
		got, _ := rig.view.Get("g")
		return got.Status == domain.StatusCompleted
	})
}

func TestDispatchFailureTrackedWithoutPollOrNotice(t *testing.T) {
	rig := newReconcilerRig(t, fastPoll())
	gen := queuedGen("g")
	gen.Status = domain.StatusFailed
	rig.rec.Track(gen)

	waitFor(t, func() bool {
		g, ok := rig.view.Get("g")
		return ok && g.Status == domain.StatusFailed
	})
	if rig.rec.PollActive("g") {
		t.Fatal("no poll loop may start for a terminal dispatch")
	}
	if rig.notifier.failedCount() != 0 {
		t.Fatal("dispatch failures are surfaced synchronously, not notified")
	}
}

func TestUnknownPollEchoIsDropped(t *testing.T) {
	rig := newReconcilerRig(t, fastPoll())
	rig.rec.Submit(update("ghost", domain.StatusProcessing, "", SourcePoll))
	time.Sleep(20 * time.Millisecond)
	if _, ok := rig.view.Get("ghost"); ok {
		t.Fatal("status-only updates must not introduce records")
	}
}
