package api

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/argos-vision/argos/internal/config"
	"github.com/argos-vision/argos/internal/frame"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var (
	serialPattern   = regexp.MustCompile(`^[0-9A-Za-z]+$`)
	nodeNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

// ValidateSerial validates a camera serial number
func ValidateSerial(serial string) error {
	if serial == "" {
		return fmt.Errorf("camera serial is required")
	}
	if !serialPattern.MatchString(serial) {
		return fmt.Errorf("camera serial must be alphanumeric")
	}
	if len(serial) > 32 {
		return fmt.Errorf("camera serial must be at most 32 characters")
	}
	return nil
}

var datasetPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateDatasetName validates a dataset directory name. Names become
// filesystem paths, so separators and dots are rejected outright.
func ValidateDatasetName(name string) error {
	if name == "" {
		return fmt.Errorf("dataset name is required")
	}
	if !datasetPattern.MatchString(name) {
		return fmt.Errorf("dataset name must contain only letters, numbers, underscores, and hyphens")
	}
	if len(name) > 64 {
		return fmt.Errorf("dataset name must be at most 64 characters")
	}
	return nil
}

// NodeValidator validates node registration payloads
type NodeValidator struct {
	errors ValidationErrors
}

// NewNodeValidator creates a new node validator
func NewNodeValidator() *NodeValidator {
	return &NodeValidator{errors: make(ValidationErrors, 0)}
}

// Validate validates a node's name and address
func (v *NodeValidator) Validate(name, address string) ValidationErrors {
	v.errors = make(ValidationErrors, 0)
	v.validateName(name)
	v.validateAddress(address)
	return v.errors
}

func (v *NodeValidator) validateName(name string) {
	if name == "" {
		v.errors = append(v.errors, ValidationError{
			Field:   "name",
			Message: "node name is required",
		})
		return
	}
	if len(name) < 2 {
		v.errors = append(v.errors, ValidationError{
			Field:   "name",
			Message: "node name must be at least 2 characters",
		})
	}
	if len(name) > 100 {
		v.errors = append(v.errors, ValidationError{
			Field:   "name",
			Message: "node name must be less than 100 characters",
		})
	}
	if !nodeNamePattern.MatchString(name) {
		v.errors = append(v.errors, ValidationError{
			Field:   "name",
			Message: "node name must start with a letter and contain only letters, digits, underscores, and hyphens",
		})
	}
}

func (v *NodeValidator) validateAddress(address string) {
	if address == "" {
		v.errors = append(v.errors, ValidationError{
			Field:   "address",
			Message: "node address is required",
		})
		return
	}
	if err := config.ValidateAddress(address); err != nil {
		v.errors = append(v.errors, ValidationError{
			Field:   "address",
			Message: err.Error(),
		})
	}
}

// FromConfigError converts a stream configuration error into field-level
// validation errors for the response envelope.
func FromConfigError(err error) ValidationErrors {
	var cfgErr *frame.ConfigError
	if errors.As(err, &cfgErr) {
		field := "stream_configs"
		if cfgErr.Kind != "" {
			field = fmt.Sprintf("stream_configs.%s", cfgErr.Kind)
		}
		return ValidationErrors{{Field: field, Message: cfgErr.Reason}}
	}
	return ValidationErrors{{Field: "stream_configs", Message: err.Error()}}
}
