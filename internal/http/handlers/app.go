// Package handlers is the HTTP surface over the submission engine.
// Handlers translate between multipart/JSON requests and engine calls;
// all business rules live below this package.
package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"stagehand/internal/billing"
	"stagehand/internal/domain"
	"stagehand/internal/engine"
	"stagehand/internal/infra"
	"stagehand/internal/middleware"
	"stagehand/internal/push"
)

type App struct {
	Engine      *engine.Engine
	Notifier    *engine.FeedNotifier
	Generations domain.GenerationRepository
	Profiles    domain.ProfileRepository
	Listener    *push.Listener
	Checkout    *billing.CheckoutClient
	Prices      billing.PriceMap
	Config      *infra.Config
	Logger      zerolog.Logger

	mu      sync.Mutex
	batches map[string]*batchSession
}

type batchSession struct {
	userID string
	coord  *engine.Coordinator
}

func NewApp() *App {
	return &App{batches: make(map[string]*batchSession)}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) batch(id string) (*batchSession, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.batches[id]
	return s, ok
}

func (a *App) putBatch(id string, s *batchSession) {
	a.mu.Lock()
	a.batches[id] = s
	a.mu.Unlock()
}

func (a *App) dropBatch(id string) {
	a.mu.Lock()
	delete(a.batches, id)
	a.mu.Unlock()
}
