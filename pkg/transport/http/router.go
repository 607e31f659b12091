package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/porthorian/authlite/pkg/authz"
)

// Client is what NewRouter needs: the admin operations plus the cached
// permission lookup used to guard them.
type Client interface {
	Admin
	MaskLookup
}

type RouterOptions struct {
	Middleware MiddlewareConfig
	Subject    SubjectResolver
	Timeout    time.Duration
}

// NewRouter mounts the admin API under /admin. Managing accounts needs
// MANAGE_USERS; changing masks needs MANAGE_PERMISSIONS as well. Bits come
// from the client's registry.
func NewRouter(client Client, options RouterOptions) http.Handler {
	if options.Timeout <= 0 {
		options.Timeout = 30 * time.Second
	}
	if options.Middleware.SubjectHeader == "" {
		options.Middleware.SubjectHeader = DefaultConfig().SubjectHeader
	}

	handler := NewHandler(client, options.Middleware.Logger)
	requireUsers := requireNamed(client, options, authz.ManageUsers)
	requirePermissions := requireNamed(client, options, authz.ManageUsers, authz.ManagePermissions)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(options.Timeout),
	)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Mount("/admin", handler.Routes(requireUsers, requirePermissions))

	return router
}

// requireNamed guards with the bits the client's registry assigns to names.
// A registry missing any of them denies every request.
func requireNamed(client Client, options RouterOptions, names ...authz.Permission) func(http.Handler) http.Handler {
	raw := make([]string, len(names))
	for i, name := range names {
		raw[i] = string(name)
	}

	required, err := client.Registry().StrictMaskFromNames(raw...)
	if err != nil || required == 0 {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusForbidden, "admin permissions are not registered")
			})
		}
	}
	return RequirePermissions(client, options.Subject, required, options.Middleware)
}
