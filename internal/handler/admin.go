package handler

import (
	"net/http"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/infra"
	"github.com/crownarena/server/internal/world"
	"github.com/go-chi/chi/v5"
)

// AdminHandler serves read-only operator endpoints.
type AdminHandler struct {
	world *world.Hub
	conns *infra.ConnHub
}

func NewAdminHandler(hub *world.Hub, conns *infra.ConnHub) *AdminHandler {
	return &AdminHandler{world: hub, conns: conns}
}

type connectionStats struct {
	World  int `json:"world"`
	Battle int `json:"battle"`
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]any{
		"world": h.world.Stats(),
		"connections": connectionStats{
			World:  h.conns.Count(infra.ChannelWorld),
			Battle: h.conns.Count(infra.ChannelBattle),
		},
	})
}

// BattleSnapshot handles GET /admin/battles/{battleID}.
func (h *AdminHandler) BattleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "battleID")
	sess, ok := h.world.Battle(id)
	if !ok {
		RespondError(w, domain.ErrRoomNotFound(id))
		return
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, snap)
}
