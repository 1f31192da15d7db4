package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// OwnerHeader carries the authenticated caller. Authentication happens in
// front of this service; a missing header means an anonymous caller.
const OwnerHeader = "X-User-ID"

type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func Error(w http.ResponseWriter, r *http.Request, status int, msg string) {
	JSON(w, r, status, ErrorResponse{Error: msg})
}

// ValidationError reports validator failures per field, keyed by the lowered
// field name.
func ValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		Error(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "min":
			fields[field] = fmt.Sprintf("%s must be at least %s", field, fe.Param())
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
		case "email":
			fields[field] = fmt.Sprintf("%s must be a valid email", field)
		default:
			fields[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	JSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: fields})
}

func Owner(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(OwnerHeader))
}
