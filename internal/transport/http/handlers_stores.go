package httptransport

import (
	"encoding/json"
	"net/http"

	"keyward/internal/keyring/models"
)

type addStoreRequest struct {
	Store        models.Identifier `json:"store"`
	Secret       string            `json:"secret"`
	MakeIfAbsent bool              `json:"make_if_absent"`
}

type removeStoresRequest struct {
	Stores        []models.Identifier `json:"stores"`
	DeleteBacking bool                `json:"delete_backing"`
}

type renameStoreRequest struct {
	Store  models.Identifier `json:"store"`
	ToPath string            `json:"to_path"`
	Unique bool              `json:"unique"`
}

type secretRequest struct {
	Secret string `json:"secret"`
}

type searchRequest struct {
	Class         models.Class `json:"class,omitempty"`
	Service       string       `json:"service,omitempty"`
	TypeTag       string       `json:"type_tag,omitempty"`
	Usage         int          `json:"usage,omitempty"`
	PublicKeyHash []byte       `json:"public_key_hash,omitempty"`
}

type searchResult struct {
	Store  models.Identifier `json:"store"`
	Record models.Record     `json:"record"`
}

func (h *Handler) handleAddStore(w http.ResponseWriter, r *http.Request) {
	var req addStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Store.IsZero() {
		writeBadRequest(w, "store identifier required")
		return
	}
	hd, err := h.manager.AddStore(r.Context(), req.Store, req.MakeIfAbsent, []byte(req.Secret))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, storeResponse{Store: hd.Identifier()})
}

func (h *Handler) handleRemoveStores(w http.ResponseWriter, r *http.Request) {
	var req removeStoresRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if len(req.Stores) == 0 {
		writeBadRequest(w, "at least one store required")
		return
	}
	if err := h.manager.Remove(r.Context(), req.Stores, req.DeleteBacking); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRenameStore(w http.ResponseWriter, r *http.Request) {
	var req renameStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Store.IsZero() || req.ToPath == "" {
		writeBadRequest(w, "store and to_path required")
		return
	}
	hd, err := h.manager.Registry().Resolve(r.Context(), req.Store)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Unique {
		err = h.manager.RenameUnique(r.Context(), hd, req.ToPath)
	} else {
		err = h.manager.Rename(r.Context(), hd, req.ToPath)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, storeResponse{Store: hd.Identifier()})
}

func (h *Handler) handleLoginUnlock(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := h.manager.Login(r.Context(), []byte(req.Secret)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLoginReset(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if err := h.manager.Reset(r.Context(), []byte(req.Secret)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSearchRecords runs one query across the effective search list and
// returns matches in list order, tagged with their originating store.
func (h *Handler) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	cur, err := h.manager.NewCursor(r.Context(), models.Query{
		Class:         req.Class,
		Service:       req.Service,
		TypeTag:       req.TypeTag,
		Usage:         req.Usage,
		PublicKeyHash: req.PublicKeyHash,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := cur.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	results := make([]searchResult, 0, len(items))
	for _, it := range items {
		results = append(results, searchResult{Store: it.Store.Identifier(), Record: it.Record})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
