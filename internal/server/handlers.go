package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/gridstream/internal/engine"
	"github.com/leapstack-labs/gridstream/internal/gridstate"
	"github.com/leapstack-labs/gridstream/internal/profile"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

const (
	sessionName       = "gridstream"
	sessionProfileKey = "activeProfile"
)

var errNoSurface = errors.New("no surface attached")

// Handlers provides the JSON API handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions sessions.Store
	logger   *slog.Logger
}

func setupRoutes(r chi.Router, eng *engine.Engine, store sessions.Store, logger *slog.Logger) {
	h := &Handlers{engine: eng, sessions: store, logger: logger}

	r.Route("/api", func(r chi.Router) {
		r.Get("/profiles", h.ListProfiles)
		r.Post("/profiles", h.SaveProfile)
		r.Post("/profiles/import", h.ImportProfile)
		r.Get("/profiles/{id}", h.GetProfile)
		r.Put("/profiles/{id}", h.UpdateProfile)
		r.Delete("/profiles/{id}", h.DeleteProfile)
		r.Post("/profiles/{id}/apply", h.ApplyProfile)
		r.Get("/profiles/{id}/export", h.ExportProfile)

		r.Get("/providers", h.ListProviders)
		r.Post("/providers/{id}/connect", h.Connect)
		r.Post("/disconnect", h.Disconnect)

		r.Get("/state", h.GetState)
		r.Post("/state/reset", h.ResetState)

		r.Get("/status", h.Status)
		r.Get("/status/sse", h.StatusSSE)

		r.Get("/session", h.Session)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListProfiles returns stored profiles. Query params: q (name filter),
// source (data source id), deleted (include soft-deleted).
func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	filter := core.ProfileFilter{
		NameContains:   r.URL.Query().Get("q"),
		DataSourceID:   r.URL.Query().Get("source"),
		IncludeDeleted: r.URL.Query().Get("deleted") == "true",
	}
	writeJSON(w, http.StatusOK, h.engine.ListProfiles(r.Context(), filter))
}

type saveProfileRequest struct {
	Name   string `json:"name"`
	SaveAs bool   `json:"saveAs,omitempty"`
}

// SaveProfile captures the surface's current state under the given name.
func (h *Handlers) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var req saveProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		id  string
		err error
	)
	if req.SaveAs {
		id, err = h.engine.SaveProfileAs(r.Context(), req.Name)
	} else {
		id, err = h.engine.SaveProfile(r.Context(), req.Name)
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	h.setSessionProfile(w, r, id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	p := h.engine.Profiles().Get(r.Context(), chi.URLParam(r, "id"))
	if p == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type updateProfileRequest struct {
	Name         string `json:"name,omitempty"`
	IsDefault    *bool  `json:"isDefault,omitempty"`
	DataSourceID string `json:"dataSourceId,omitempty"`
	AutoConnect  *bool  `json:"autoConnect,omitempty"`
}

// UpdateProfile edits profile metadata in place. Grid state is only
// written through SaveProfile, which captures it from the surface.
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := chi.URLParam(r, "id")
	err := h.engine.Profiles().Update(r.Context(), id, func(p *core.Profile) {
		if req.Name != "" {
			p.Name = req.Name
		}
		if req.IsDefault != nil {
			p.IsDefault = *req.IsDefault
		}
		if req.DataSourceID != "" {
			p.DataSourceID = req.DataSourceID
		}
		if req.AutoConnect != nil {
			p.AutoConnect = *req.AutoConnect
		}
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Profiles().Get(r.Context(), id))
}

func (h *Handlers) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteProfile(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyProfile loads and applies a profile. Application is deferred when
// no ready surface is attached; either way the profile becomes the
// session's active one.
func (h *Handlers) ApplyProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.LoadProfile(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	h.setSessionProfile(w, r, id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ExportProfile(w http.ResponseWriter, r *http.Request) {
	p := h.engine.Profiles().Get(r.Context(), chi.URLParam(r, "id"))
	if p == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", profile.ExportFileName(p.Name)))
	if err := profile.Export(p, w); err != nil {
		h.logger.Warn("profile export failed", "id", p.ID, "error", err)
	}
}

func (h *Handlers) ImportProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.ImportProfile(r.Context(), r.Body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Registry().List())
}

func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Connect(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Disconnect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetState extracts the surface's full grid state.
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	state := h.engine.Grid().Extract(gridstate.AllOptions())
	if state == nil {
		writeError(w, http.StatusConflict, errNoSurface)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) ResetState(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetState(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Status returns a one-shot stats snapshot.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

// StatusSSE streams stream statistics as datastar signal patches until
// the client disconnects.
func (h *Handlers) StatusSSE(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	statsCh, unsubscribe := h.engine.Notifier().Subscribe()
	defer unsubscribe()

	// Seed with the current snapshot so the panel renders immediately.
	if err := sse.MarshalAndPatchSignals(h.engine.Stats()); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case stats, ok := <-statsCh:
			if !ok {
				return
			}
			if err := sse.MarshalAndPatchSignals(stats); err != nil {
				return
			}
		}
	}
}

// Session returns the session's active profile id.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	id, _ := session.Values[sessionProfileKey].(string)
	writeJSON(w, http.StatusOK, map[string]string{"activeProfile": id})
}

func (h *Handlers) setSessionProfile(w http.ResponseWriter, r *http.Request, id string) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values[sessionProfileKey] = id
	if err := session.Save(r, w); err != nil {
		h.logger.Warn("failed to save session", "error", err)
	}
}
