package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// report json names instead of Go field names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// decode reads a JSON body into v and validates it.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return check(v)
}

// check validates v and flattens the first failure into ErrBadRequest.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: missing %s", ErrBadRequest, fe.Field())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", ErrBadRequest, fe.Field(), fe.Param())
	case "gt":
		return fmt.Errorf("%w: %s must be greater than %s", ErrBadRequest, fe.Field(), fe.Param())
	case "gte":
		return fmt.Errorf("%w: %s must be at least %s", ErrBadRequest, fe.Field(), fe.Param())
	case "nefield":
		return fmt.Errorf("%w: %s must differ from %s", ErrBadRequest, fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%w: invalid %s", ErrBadRequest, fe.Field())
	}
}
