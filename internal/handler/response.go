package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/clipzy/clipzy-server/internal/errors"
	"github.com/clipzy/clipzy-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// decodeJSON reads a JSON request body into v. A body cut off by the size
// limit is reported as PayloadTooLarge, anything else unreadable as
// InvalidInput.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apperrors.InvalidInput("body", "empty")
	}

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		size := int(r.ContentLength)
		if size <= int(maxErr.Limit) {
			size = int(maxErr.Limit) + 1
		}
		return apperrors.PayloadTooLarge(size, int(maxErr.Limit))
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperrors.InvalidInput(typeErr.Field, "wrong type")
	}
	return apperrors.InvalidInput("body", "malformed JSON")
}
