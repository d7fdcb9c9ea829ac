package plugin

import (
	"github.com/skillsenselab/orbit/validation"
)

// Descriptor describes a discovered provider. Created at discovery time and
// immutable thereafter.
type Descriptor struct {
	// ID is the unique, stable provider identifier.
	ID string `json:"id"`
	// Name is the human-readable display name.
	Name string `json:"name"`
	// Category is the capability category.
	Category Category `json:"category"`
	// Path locates the worker binary for exec-based launchers. Empty for
	// descriptors whose launcher is injected some other way (tests).
	Path string `json:"path,omitempty"`
	// Args are extra arguments passed to the worker binary.
	Args []string `json:"args,omitempty"`
	// ConfigSchema is a struct prototype whose `validate` tags describe
	// acceptable configuration. Nil means the provider takes none.
	ConfigSchema any `json:"-"`
}

// Validate checks the descriptor's structural invariants.
func (d Descriptor) Validate() error {
	v := validation.New()
	v.Required("id", d.ID)
	v.Required("name", d.Name)
	v.Custom(d.Category.Valid(), "category", "must be one of: system, stt, tts, search")
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}
