package httptransport

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/porthorian/authlite/pkg/authz"
	oerrors "github.com/porthorian/authlite/pkg/errors"
)

// MaskLookup resolves the effective mask of a caller, typically through the
// cache-backed *authlite.Client.
type MaskLookup interface {
	LookupPermissionMask(ctx context.Context, userID int64) (authz.PermissionMask, error)
}

// SubjectResolver extracts the authenticated user id set by an upstream
// authenticator.
type SubjectResolver func(r *http.Request) (int64, bool)

type MiddlewareConfig struct {
	SubjectHeader     string
	FailureStatusCode int
	Logger            logr.Logger
}

func DefaultConfig() MiddlewareConfig {
	return MiddlewareConfig{
		SubjectHeader:     "X-Authlite-User-Id",
		FailureStatusCode: http.StatusForbidden,
	}
}

// HeaderSubject reads a positive decimal user id from header.
func HeaderSubject(header string) SubjectResolver {
	return func(r *http.Request) (int64, bool) {
		raw := strings.TrimSpace(r.Header.Get(header))
		if raw == "" {
			return 0, false
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, false
		}
		return id, true
	}
}

type subjectContextKey struct{}

// SubjectFromContext returns the user id admitted by RequirePermissions.
func SubjectFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(subjectContextKey{}).(int64)
	return id, ok
}

// RequirePermissions admits requests whose subject holds every bit in
// required.
func RequirePermissions(lookup MaskLookup, resolve SubjectResolver, required authz.PermissionMask, config MiddlewareConfig) func(http.Handler) http.Handler {
	if config.FailureStatusCode == 0 {
		config.FailureStatusCode = http.StatusForbidden
	}
	if resolve == nil {
		header := config.SubjectHeader
		if header == "" {
			header = DefaultConfig().SubjectHeader
		}
		resolve = HeaderSubject(header)
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := resolve(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			mask, err := lookup.LookupPermissionMask(r.Context(), subject)
			switch {
			case oerrors.IsCode(err, oerrors.CodeNotFound):
				writeError(w, http.StatusUnauthorized, "unknown subject")
				return
			case err != nil:
				logger.Error(err, "permission lookup failed", "subject", subject)
				writeCodedError(w, err)
				return
			}

			if !authz.HasAllPermissions(mask, required) {
				writeError(w, config.FailureStatusCode, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectContextKey{}, subject)))
		})
	}
}
