package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stagehand/internal/domain"
)

type fakeProfiles struct {
	mu      sync.Mutex
	profile domain.Profile
	reads   int
	err     error
}

func (f *fakeProfiles) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.reads++
	cp := f.profile
	cp.ID = id
	return &cp, nil
}

func (f *fakeProfiles) UpdatePlanByCustomer(ctx context.Context, customerID string, plan domain.PlanType, endsAt time.Time) error {
	return nil
}

func (f *fakeProfiles) SetStripeCustomer(ctx context.Context, userID, customerID string) error {
	return nil
}

func (f *fakeProfiles) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type fakeGens struct {
	mu        sync.Mutex
	createErr error
	byID      map[string]*domain.Generation
	order     []string
	updates   []string
}

func newFakeGens() *fakeGens {
	return &fakeGens{byID: make(map[string]*domain.Generation)}
}

func (f *fakeGens) Create(ctx context.Context, gen *domain.Generation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	now := time.Now().UTC()
	gen.CreatedAt = now
	gen.UpdatedAt = now
	cp := *gen
	f.byID[gen.ID] = &cp
	f.order = append(f.order, gen.ID)
	return nil
}

func (f *fakeGens) UpdateStatus(ctx context.Context, id string, status domain.GenerationStatus, generatedURL *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	f.updates = append(f.updates, fmt.Sprintf("%s:%s", id, status))
	if g.Status.Terminal() {
		return nil
	}
	g.Status = status
	if generatedURL != nil {
		g.GeneratedURL = *generatedURL
	}
	g.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeGens) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGens) ListByUser(ctx context.Context, userID string) ([]domain.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Generation
	for i := len(f.order) - 1; i >= 0; i-- {
		if g := f.byID[f.order[i]]; g.UserID == userID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f *fakeGens) ReadStatus(ctx context.Context, id string) (domain.StatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.byID[id]
	if !ok {
		return domain.StatusSnapshot{}, domain.ErrNotFound
	}
	return domain.StatusSnapshot{Status: g.Status, GeneratedURL: g.GeneratedURL}, nil
}

func (f *fakeGens) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

type fakeStore struct {
	mu   sync.Mutex
	err  error
	puts []string
}

func (f *fakeStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	f.puts = append(f.puts, key)
	return "https://cdn.example/" + key, nil
}

func (f *fakeStore) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

type fakeInvoker struct {
	mu    sync.Mutex
	err   error
	calls []InvokeRequest
}

func (f *fakeInvoker) Invoke(ctx context.Context, req InvokeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, req)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	batches   [][2]int
}

func (f *fakeNotifier) GenerationCompleted(ctx context.Context, gen *domain.Generation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, gen.ID)
}

func (f *fakeNotifier) GenerationFailed(ctx context.Context, gen *domain.Generation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, gen.ID)
}

func (f *fakeNotifier) BatchFinished(ctx context.Context, userID string, total, completed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, [2]int{total, completed})
}

func (f *fakeNotifier) batchCalls() [][2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]int, len(f.batches))
	copy(out, f.batches)
	return out
}

func (f *fakeNotifier) completedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed)
}

func (f *fakeNotifier) failedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failed)
}

var errStoreDown = errors.New("store unavailable")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type testRig struct {
	engine   *Engine
	gens     *fakeGens
	profiles *fakeProfiles
	invoker  *fakeInvoker
	notifier *fakeNotifier
	cancel   context.CancelFunc
}

// newTestRig builds an engine over in-memory fakes with fast poll
// timing and starts its merge loop.
func newTestRig(t *testing.T, store ObjectStore, profile domain.Profile) *testRig {
	t.Helper()
	gens := newFakeGens()
	profiles := &fakeProfiles{profile: profile}
	invoker := &fakeInvoker{}
	notifier := &fakeNotifier{}

	eng := New(Options{
		Generations: gens,
		Profiles:    profiles,
		Reader:      gens,
		Store:       store,
		Invoker:     invoker,
		Notifier:    notifier,
		Logger:      zerolog.Nop(),
		Reconciler: ReconcilerConfig{
			PollInterval: 5 * time.Millisecond,
			PollCeiling:  250 * time.Millisecond,
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	t.Cleanup(cancel)
	return &testRig{engine: eng, gens: gens, profiles: profiles, invoker: invoker, notifier: notifier, cancel: cancel}
}
