package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"gopkg.in/go-playground/validator.v9"
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bindError carries per-field messages keyed by the dotted JSON path.
type bindError struct {
	Fields map[string]string
}

func (e *bindError) Error() string { return "Validation error" }

// bind decodes the JSON body of r into dst and validates it. An empty body
// decodes to the zero value so that required fields are reported.
func bind(r *http.Request, dst any) error {
	if r.Body != nil {
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return decodeError(err)
		}
	}

	if err := validate.Struct(dst); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return err
		}
		fields := make(map[string]string, len(ves))
		for _, fe := range ves {
			fields[fieldPath(fe.Namespace())] = fieldMessage(fe)
		}
		return &bindError{Fields: fields}
	}
	return nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &bindError{Fields: map[string]string{typeErr.Field: "Not a valid " + typeName(typeErr.Type) + "."}}
	}
	return &bindError{Fields: map[string]string{"json": "Invalid JSON body."}}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Missing data for required field."
	case "url":
		return "Not a valid URL."
	}
	return "Invalid value."
}

func typeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Struct, reflect.Map:
		return "mapping"
	}
	return t.Kind().String()
}

func writeBindError(w http.ResponseWriter, err error) {
	var be *bindError
	if errors.As(err, &be) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": be.Error(),
			"errors":  be.Fields,
		})
		return
	}
	writeMessage(w, http.StatusUnprocessableEntity, err.Error())
}
