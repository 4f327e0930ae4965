package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stagehand/internal/domain"
)

// Coordinator fans a user-selected set of photos out to independent
// upload→dispatch→reconcile pipelines. It exclusively owns its
// BatchItems for the lifetime of one submission session; one item's
// failure is recorded on that item and never cancels or delays a
// sibling. After every dispatched item reaches a terminal state the
// coordinator emits a single aggregate notice (per-item notices are
// suppressed via the batch metadata flag).
type Coordinator struct {
	engine *Engine
	userID string
	params domain.GenerationParams
	limit  int

	mu           sync.Mutex
	items        []*domain.BatchItem
	byGen        map[string]*domain.BatchItem
	started      bool
	dispatched   int
	notified     bool
	cancelMirror func()
}

// NewBatch builds a coordinator over the selected assets. Nothing runs
// until Submit; individual items can still be removed before that.
func (e *Engine) NewBatch(userID string, params domain.GenerationParams, assets []Asset) *Coordinator {
	c := &Coordinator{
		engine: e,
		userID: userID,
		params: params,
		limit:  e.batchLimit,
		byGen:  make(map[string]*domain.BatchItem),
	}
	for _, a := range assets {
		c.items = append(c.items, &domain.BatchItem{
			ID:          uuid.NewString(),
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Data:        a.Data,
			Status:      domain.BatchPending,
		})
	}
	return c
}

// Remove discards a pending item before its pipeline starts. It has no
// side effects elsewhere; once the batch is submitted removal is refused.
func (c *Coordinator) Remove(itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return domain.ErrInvalidAsset
	}
	for i, it := range c.items {
		if it.ID == itemID && it.Status == domain.BatchPending {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// Submit admits the whole batch against the quota, then runs each
// item's pipeline concurrently. It returns once every item has been
// dispatched (or failed trying) with the number successfully started;
// it does not wait for terminal completion.
func (c *Coordinator) Submit(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return 0, domain.ErrInvalidAsset
	}
	n := len(c.items)
	c.mu.Unlock()

	prof, err := c.engine.profiles.Get(ctx, c.userID)
	if err != nil {
		return 0, err
	}
	// Terminal for this attempt: no record is created and no storage
	// write is attempted for any item.
	if err := Admit(prof.GenerationCount, prof.Ceiling(), n); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.started = true
	items := make([]*domain.BatchItem, len(c.items))
	copy(items, c.items)
	c.mu.Unlock()

	// Mirror view changes into item statuses before anything runs so a
	// fast terminal update cannot slip past the subscription.
	events, cancel := c.engine.view.Subscribe()
	c.mu.Lock()
	c.cancelMirror = cancel
	c.mu.Unlock()
	go c.mirror(ctx, events)

	params := c.params
	params.Batch = true

	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for _, item := range items {
		item := item
		g.Go(func() error {
			c.runItem(ctx, item, params)
			return nil // failures live on the item, never cancel siblings
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	started := c.dispatched
	c.mu.Unlock()
	c.maybeNotify(ctx)
	return started, nil
}

// runItem executes one item's pipeline: upload with progress, dispatch,
// then hand the generation to the reconciler.
func (c *Coordinator) runItem(ctx context.Context, item *domain.BatchItem, params domain.GenerationParams) {
	c.setItem(item, func() {
		item.Status = domain.BatchUploading
		item.UploadProgress = 0
	})

	ref, err := c.engine.uploader.Upload(ctx, c.userID, Asset{
		Filename:    item.Filename,
		ContentType: item.ContentType,
		Data:        item.Data,
	}, func(p int) {
		c.setItem(item, func() { item.UploadProgress = p })
	})
	if err != nil {
		c.setItem(item, func() {
			item.Status = domain.BatchFailed
			item.Err = err
		})
		return
	}

	gen, err := c.engine.dispatcher.Dispatch(ctx, c.userID, ref, params)
	if gen != nil {
		// Even a dispatch-time failure is reflected in the local view.
		c.engine.reconciler.Track(gen)
	}
	if err != nil {
		c.setItem(item, func() {
			if gen != nil {
				item.GenerationID = gen.ID
			}
			item.Status = domain.BatchFailed
			item.Err = err
		})
		return
	}

	c.mu.Lock()
	item.GenerationID = gen.ID
	item.Status = domain.BatchQueued
	c.byGen[gen.ID] = item
	c.dispatched++
	c.mu.Unlock()

	// Catch anything the mirror saw before the mapping existed.
	if cur, ok := c.engine.view.Get(gen.ID); ok {
		c.applyStatus(item, cur.Status)
	}
}

// mirror keeps item statuses in sync with the reconciled view.
func (c *Coordinator) mirror(ctx context.Context, events <-chan ViewEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.mu.Lock()
			item, tracked := c.byGen[ev.Generation.ID]
			c.mu.Unlock()
			if !tracked {
				continue
			}
			c.applyStatus(item, ev.Generation.Status)
			c.maybeNotify(ctx)
		}
	}
}

func (c *Coordinator) applyStatus(item *domain.BatchItem, status domain.GenerationStatus) {
	c.setItem(item, func() {
		if item.Status.Terminal() {
			return
		}
		switch status {
		case domain.StatusQueued:
			item.Status = domain.BatchQueued
		case domain.StatusProcessing:
			item.Status = domain.BatchProcessing
		case domain.StatusCompleted:
			item.Status = domain.BatchCompleted
		case domain.StatusFailed:
			item.Status = domain.BatchFailed
		}
	})
}

// maybeNotify emits the aggregate notice once every item is terminal.
func (c *Coordinator) maybeNotify(ctx context.Context) {
	c.mu.Lock()
	if c.notified || !c.started {
		c.mu.Unlock()
		return
	}
	completed := 0
	for _, it := range c.items {
		if !it.Status.Terminal() {
			c.mu.Unlock()
			return
		}
		if it.Status == domain.BatchCompleted {
			completed++
		}
	}
	c.notified = true
	total := len(c.items)
	cancel := c.cancelMirror
	c.cancelMirror = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.engine.notifier != nil {
		c.engine.notifier.BatchFinished(ctx, c.userID, total, completed)
	}
}

// Items returns a snapshot of the batch's live status tiles.
func (c *Coordinator) Items() []domain.BatchItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.BatchItem, 0, len(c.items))
	for _, it := range c.items {
		cp := *it
		cp.Data = nil // tiles do not need the raw bytes
		out = append(out, cp)
	}
	return out
}

// CompletedCount reports how many items have reached completed so far.
func (c *Coordinator) CompletedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range c.items {
		if it.Status == domain.BatchCompleted {
			n++
		}
	}
	return n
}

// Clear tears the batch down. Live generations keep reconciling in the
// view; only the item tiles and the mirror go away.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	cancel := c.cancelMirror
	c.cancelMirror = nil
	c.items = nil
	c.byGen = make(map[string]*domain.BatchItem)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) setItem(item *domain.BatchItem, fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}
