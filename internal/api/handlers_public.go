package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/andperez123/capnet/internal/api/respond"
	"github.com/andperez123/capnet/internal/config"
	"github.com/andperez123/capnet/internal/status"
	"github.com/andperez123/capnet/internal/store"
)

// PublicHandler serves unauthenticated read endpoints.
type PublicHandler struct {
	cfg    *config.Config
	store  *store.Facade
	prober *status.Prober
	health HealthReporter
	auth   sessionAuth
	log    zerolog.Logger
	now    func() time.Time
}

func NewPublicHandler(cfg *config.Config, f *store.Facade, prober *status.Prober, health HealthReporter, log zerolog.Logger) *PublicHandler {
	return &PublicHandler{
		cfg:    cfg,
		store:  f,
		prober: prober,
		health: health,
		auth:   sessionAuth{store: f, log: log},
		log:    log,
		now:    time.Now,
	}
}

// Leaderboard GET /api/leaderboard
func (h *PublicHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.GetLeaderboard(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("leaderboard failed")
		respond.WriteInternalError(w, "Server error")
		return
	}
	respond.WriteOK(w, map[string]interface{}{"leaderboard": list})
}

// Status GET /api/status[?verbose=1]
// Verbose reports expose URLs and the store kind, so they need a session.
func (h *PublicHandler) Status(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("verbose")
	verbose := v == "1" || v == "true"
	if verbose && h.auth.require(w, r) == nil {
		return
	}
	report := h.prober.Check(r.Context(), status.Targets{
		StoreKind:     h.store.Kind(),
		TrustGraphURL: h.cfg.TrustGraphURL,
		WakeNetURL:    h.cfg.WakeNetURL,
	}, verbose)
	respond.WriteJSON(w, http.StatusOK, report)
}
