package httptransport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"keyward/internal/identity"
	"keyward/internal/keyring/models"
	"keyward/pkg/platform/sentinel"
)

type identityResponse struct {
	Certificate models.Record     `json:"certificate"`
	Key         models.Record     `json:"key"`
	Store       models.Identifier `json:"store"`
}

type preferenceRequest struct {
	Name      string               `json:"name"`
	Usage     int                  `json:"usage,omitempty"`
	Reference models.PersistentRef `json:"reference"`
}

func identityJSON(id identity.Identity) identityResponse {
	return identityResponse{Certificate: id.Certificate, Key: id.Key, Store: id.Store}
}

func (h *Handler) handleLookupPreference(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeBadRequest(w, "name required")
		return
	}
	usage := 0
	if raw := r.URL.Query().Get("usage"); raw != "" {
		var err error
		usage, err = strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "usage must be an integer")
			return
		}
	}
	var issuers [][]byte
	for _, enc := range r.URL.Query()["issuer"] {
		iss, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			writeBadRequest(w, "issuer must be base64")
			return
		}
		issuers = append(issuers, iss)
	}
	id, err := h.resolver.Lookup(r.Context(), name, usage, issuers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identityJSON(id))
}

func (h *Handler) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	h.writePreference(w, r, func(r *http.Request, name string, id identity.Identity, usage int) error {
		return h.resolver.Set(r.Context(), name, id, usage)
	})
}

func (h *Handler) handleAddPreference(w http.ResponseWriter, r *http.Request) {
	h.writePreference(w, r, func(r *http.Request, name string, id identity.Identity, usage int) error {
		return h.resolver.AddPreference(r.Context(), name, id, usage)
	})
}

func (h *Handler) writePreference(w http.ResponseWriter, r *http.Request,
	write func(*http.Request, string, identity.Identity, int) error) {
	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name required")
		return
	}
	id, err := h.resolver.IdentityFromReference(r.Context(), req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := write(r, req.Name, id, req.Usage); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSystemIdentity(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeError(w, fmt.Errorf("%w: no system identity store configured", sentinel.ErrUnavailable))
		return
	}
	id, err := h.system.Get(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identityJSON(id))
}

func (h *Handler) handleSetSystemIdentity(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeError(w, fmt.Errorf("%w: no system identity store configured", sentinel.ErrUnavailable))
		return
	}
	var req struct {
		PublicKeyHash []byte `json:"public_key_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	// An absent or empty hash clears the assignment.
	if err := h.system.Set(r.Context(), chi.URLParam(r, "tag"), req.PublicKeyHash); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
