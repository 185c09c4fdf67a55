// Package api implements the REST handlers of the device cloud.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goodtune/dtxcloud/internal/auth"
	"github.com/goodtune/dtxcloud/internal/storage"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message,omitempty"`
	Code    int                 `json:"code"`
	Details map[string][]string `json:"details,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// utc rejects timestamps carrying a zone offset.
	_ = validate.RegisterValidation("utc", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		if !ok {
			return false
		}
		_, offset := t.Zone()
		return offset == 0
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response. It is exported for the server
// middleware.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	WriteError(w, statusCode, message)
}

func writeValidationError(w http.ResponseWriter, details map[string][]string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   http.StatusText(http.StatusBadRequest),
		Message: "Validation failed",
		Code:    http.StatusBadRequest,
		Details: details,
	})
}

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and reports false when the request must stop.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			writeValidationError(w, map[string][]string{
				typeErr.Field: {"must be of type " + typeErr.Type.String()},
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return check(w, dst)
}

// check validates v and writes a 400 with field details on failure.
func check(w http.ResponseWriter, v interface{}) bool {
	details := fieldErrors(validate.Struct(v))
	if details == nil {
		return true
	}
	writeValidationError(w, details)
	return false
}

func fieldErrors(err error) map[string][]string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string][]string{"": {err.Error()}}
	}

	details := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		details[path] = append(details[path], problem(fe))
	}
	return details
}

func problem(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("must be %s %s characters", bound, fe.Param())
		case reflect.Slice:
			return fmt.Sprintf("must have %s %s items", bound, fe.Param())
		}
		return fmt.Sprintf("must be %s %s", bound, fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uuid":
		return "must be a valid UUID"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "datetime":
		return "must be a " + fe.Param() + " date"
	case "utc":
		return "must be a UTC timestamp"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// queryInt parses an integer query parameter. Absent parameters yield def.
func queryInt(r *http.Request, name string, def int, details map[string][]string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		details[name] = append(details[name], "must be an integer")
		return def
	}
	return v
}

// pagination is the page/limit query shared by the admin listings.
type pagination struct {
	Page   int    `json:"page" validate:"min=1"`
	Limit  int    `json:"limit" validate:"min=1,max=100"`
	Search string `json:"search"`
}

func (p pagination) offset() int {
	return (p.Page - 1) * p.Limit
}

// parsePagination reads page, limit and search, writing a 400 on bad input.
func parsePagination(w http.ResponseWriter, r *http.Request) (pagination, bool) {
	details := map[string][]string{}
	p := pagination{
		Page:   queryInt(r, "page", 1, details),
		Limit:  queryInt(r, "limit", 20, details),
		Search: r.URL.Query().Get("search"),
	}
	if len(details) > 0 {
		writeValidationError(w, details)
		return p, false
	}
	return p, check(w, p)
}

// currentUser returns the authenticated caller. The auth middleware
// guarantees its presence on every route that calls this.
func currentUser(r *http.Request) *storage.User {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return &storage.User{}
	}
	return user
}

func strPtr(s string) *string {
	return &s
}

// optional returns nil for an empty string.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
