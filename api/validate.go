package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/warp/rent-engine/generic"
)

// newValidator returns a validator that reports JSON field names and
// compares generic.Money by value.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if m, ok := field.Interface().(generic.Money); ok {
			return m.Float64()
		}
		return nil
	}, generic.Money{})

	return v
}

// decode reads a JSON body into dst and validates it. The returned error is
// ready to be written with writeDecodeError.
func (h *Handler) decode(r *http.Request, dst any) error {
	return h.decodeBody(r, dst, false)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(r *http.Request, dst any) error {
	return h.decodeBody(r, dst, true)
}

func (h *Handler) decodeBody(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return &requestError{message: "Invalid request body", err: err}
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		return &requestError{message: "Request validation failed", err: err}
	}
	return nil
}

type requestError struct {
	message string
	err     error
}

func (e *requestError) Error() string { return fmt.Sprintf("%s: %v", e.message, e.err) }
func (e *requestError) Unwrap() error { return e.err }

func writeDecodeError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if !errors.As(err, &reqErr) {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	var verrs validator.ValidationErrors
	if !errors.As(reqErr.err, &verrs) {
		writeError(w, http.StatusBadRequest, reqErr.message, reqErr.err)
		return
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = validationMessage(fe)
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: reqErr.message, Fields: fields})
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "required_without":
		return "Required when " + fe.Param() + " is absent"
	case "uuid":
		return "Invalid UUID format"
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "gt":
		return "Must be greater than " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "Must be at most " + fe.Param() + " characters"
		}
		return "Must be at most " + fe.Param()
	case "datetime":
		switch fe.Param() {
		case "2006-01":
			return "Must be a month (YYYY-MM)"
		default:
			return "Must be a date (YYYY-MM-DD)"
		}
	default:
		return "Invalid value"
	}
}

// parseOptionalDate parses an optional YYYY-MM-DD value.
func parseOptionalDate(s *string) (*generic.Date, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseMonths(values []string) ([]generic.Month, error) {
	if len(values) == 0 {
		return nil, nil
	}
	months := make([]generic.Month, 0, len(values))
	for _, v := range values {
		m, err := generic.ParseMonth(v)
		if err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, nil
}
