package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Validate runs struct validation and reports failures as shared.ErrInvalid
// with one "field: tag" entry per failing field.
func Validate(v *validator.Validate, payload any) error {
	err := v.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %v: %w", err, shared.ErrInvalid)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	sort.Strings(msgs)
	return fmt.Errorf("%s: %w", strings.Join(msgs, ", "), shared.ErrInvalid)
}

// DecodeAndValidate decodes a JSON body into target and validates it.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, target any) error {
	if err := DecodeJSON(w, r, target); err != nil {
		return err
	}
	return Validate(v, target)
}

// URLParamUUID parses a chi URL parameter as a UUID.
func URLParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a UUID: %w", name, shared.ErrInvalid)
	}
	return id, nil
}
