// Package validation backs the registry's plugin-config schema checks.
//
// It supports both struct tag validation (using the validator library) for
// descriptors that expose a typed config schema, and programmatic validation
// with error collection for ad-hoc checks.
//
// # Struct Tag Validation
//
//	type WhisperConfig struct {
//	    Model    string `json:"model" validate:"required"`
//	    Language string `json:"language" validate:"omitempty,len=2"`
//	}
//	err := validation.Validate(cfg)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Required("model", model)
//	err := v.Validate()
package validation
