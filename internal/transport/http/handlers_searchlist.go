package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keyward/internal/keyring/models"
	"keyward/internal/searchlist"
)

type setSearchListRequest struct {
	Stores []models.Identifier `json:"stores"`
}

type storeResponse struct {
	Store models.Identifier `json:"store"`
}

type setStoreRequest struct {
	Store models.Identifier `json:"store"`
}

func domainParam(r *http.Request) (searchlist.Domain, error) {
	return searchlist.ParseDomain(chi.URLParam(r, "domain"))
}

func (h *Handler) handleGetDomain(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"domain": h.manager.Domain().String()})
}

func (h *Handler) handleSetDomain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	d, err := searchlist.ParseDomain(req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.manager.SetDomain(d); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSearchList(w http.ResponseWriter, r *http.Request) {
	d, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.manager.SearchList(r.Context(), d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleSetSearchList(w http.ResponseWriter, r *http.Request) {
	d, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req setSearchListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := h.manager.SetSearchList(r.Context(), d, req.Stores); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetDomainDefault(w http.ResponseWriter, r *http.Request) {
	d, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	hd, err := h.manager.DefaultInDomain(r.Context(), d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storeResponse{Store: hd.Identifier()})
}

func (h *Handler) handleSetDomainDefault(w http.ResponseWriter, r *http.Request) {
	d, err := domainParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req setStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := h.manager.SetDefaultInDomain(r.Context(), d, req.Store); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetDefault(w http.ResponseWriter, r *http.Request) {
	hd, err := h.manager.Default(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storeResponse{Store: hd.Identifier()})
}

func (h *Handler) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	var req setStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := h.manager.SetDefault(r.Context(), req.Store); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetLoginStore(w http.ResponseWriter, r *http.Request) {
	hd, err := h.manager.LoginStore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storeResponse{Store: hd.Identifier()})
}

func (h *Handler) handleSetLoginStore(w http.ResponseWriter, r *http.Request) {
	var req setStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := h.manager.SetLoginStore(r.Context(), req.Store); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
