// Package spec loads the YAML organization spec and checks its syntax.
package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/validation"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFile reads and validates the spec at path.
func LoadFile(path string) (*domain.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec file: %w", err)
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("spec file %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a spec document and runs the schema and cross-field checks.
// Unknown keys are rejected.
func Parse(r io.Reader) (*domain.Spec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s domain.Spec
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", domain.ErrInvalidSpec)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSpec, err)
	}

	if err := validate.Struct(&s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSpec, err)
		}
		var errs validation.ValidationErrors
		for _, fe := range fieldErrs {
			errs.Add(fe.Namespace(), fmt.Sprint(fe.Value()), describe(fe))
		}
		return nil, errs
	}

	if err := validation.ValidateSpec(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// describe turns a validator tag failure into an operator-facing message.
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_unless":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters long"
	case "numeric":
		return "must be numeric"
	case "email":
		return "must be an email address"
	case "fqdn":
		return "must be a domain name"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
