package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	oerrors "github.com/porthorian/authlite/pkg/errors"
)

func decodeJSON(r *http.Request, dest any) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected data after JSON payload")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeCodedError maps an errors.Code to its HTTP status. Internal failures
// are reported without their cause.
func writeCodedError(w http.ResponseWriter, err error) {
	code := oerrors.CodeOf(err)
	status := statusForCode(code)

	message := err.Error()
	if oerrors.IsInternalCode(err) {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message, Code: string(code)})
}

func statusForCode(code oerrors.Code) int {
	switch code {
	case oerrors.CodeNotFound:
		return http.StatusNotFound
	case oerrors.CodeDuplicateLogin:
		return http.StatusConflict
	case oerrors.CodeInvalidArgument, oerrors.CodeInvalidPermissionName:
		return http.StatusBadRequest
	case oerrors.CodeStorageUnavailable, oerrors.CodeCacheUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
