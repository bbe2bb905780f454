package httptransport

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"keyward/internal/identity"
	"keyward/internal/search"
)

// Handler is the thin HTTP layer. It delegates to the search manager and
// identity resolver without embedding business logic so transport concerns
// remain isolated.
type Handler struct {
	logger   *slog.Logger
	manager  *search.Manager
	resolver *identity.Resolver
	system   *identity.SystemIdentities
	metrics  *Metrics
}

// New creates a Handler. system may be nil when the deployment has no
// system-identity store; its routes then answer 404.
func New(
	manager *search.Manager,
	resolver *identity.Resolver,
	system *identity.SystemIdentities,
	logger *slog.Logger,
	metrics *Metrics) *Handler {
	return &Handler{
		logger:   logger,
		manager:  manager,
		resolver: resolver,
		system:   system,
		metrics:  metrics,
	}
}

// Register registers all keyward routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/domain", h.handleGetDomain)
		r.Put("/domain", h.handleSetDomain)

		r.Get("/domains/{domain}/search-list", h.handleGetSearchList)
		r.Put("/domains/{domain}/search-list", h.handleSetSearchList)
		r.Get("/domains/{domain}/default", h.handleGetDomainDefault)
		r.Put("/domains/{domain}/default", h.handleSetDomainDefault)

		r.Get("/default", h.handleGetDefault)
		r.Put("/default", h.handleSetDefault)
		r.Get("/login-store", h.handleGetLoginStore)
		r.Put("/login-store", h.handleSetLoginStore)

		r.Post("/stores", h.handleAddStore)
		r.Post("/stores/remove", h.handleRemoveStores)
		r.Post("/stores/rename", h.handleRenameStore)

		r.Post("/login/unlock", h.handleLoginUnlock)
		r.Post("/login/reset", h.handleLoginReset)

		r.Post("/records/search", h.handleSearchRecords)

		r.Get("/identities/preference", h.handleLookupPreference)
		r.Put("/identities/preference", h.handleSetPreference)
		r.Post("/identities/preference", h.handleAddPreference)

		r.Get("/system-identities/{tag}", h.handleGetSystemIdentity)
		r.Put("/system-identities/{tag}", h.handleSetSystemIdentity)
	})
}
