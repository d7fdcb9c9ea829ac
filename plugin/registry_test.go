package plugin

import (
	"context"
	"testing"

	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
)

type echoConfig struct {
	Model    string `json:"model" validate:"required"`
	Language string `json:"language,omitempty"`
}

func testDescriptor(id string, cat Category) Descriptor {
	return Descriptor{
		ID:           id,
		Name:         "Test " + id,
		Category:     cat,
		Path:         "/opt/providers/" + id,
		ConfigSchema: echoConfig{},
	}
}

func TestRegistryDiscoverSortsByID(t *testing.T) {
	reg := NewRegistry(logger.Nop(), NewStaticDiscoverer(
		testDescriptor("whisper-local", CategorySTT),
		testDescriptor("azure-stt", CategorySTT),
		testDescriptor("piper-tts", CategoryTTS),
	))
	if err := reg.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	descs := reg.Descriptors()
	if len(descs) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descs))
	}
	want := []string{"azure-stt", "piper-tts", "whisper-local"}
	for i, id := range want {
		if descs[i].ID != id {
			t.Errorf("descriptor %d: got %q, want %q", i, descs[i].ID, id)
		}
	}
}

func TestRegistryDiscoverRejectsDuplicateID(t *testing.T) {
	reg := NewRegistry(logger.Nop(),
		NewStaticDiscoverer(testDescriptor("whisper-local", CategorySTT)),
		NewStaticDiscoverer(testDescriptor("whisper-local", CategorySTT)),
	)
	if err := reg.Discover(context.Background()); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestRegistryDiscoverRejectsInvalidDescriptor(t *testing.T) {
	bad := Descriptor{ID: "", Name: "nameless", Category: CategorySTT}
	reg := NewRegistry(logger.Nop(), NewStaticDiscoverer(bad))
	if err := reg.Discover(context.Background()); err == nil {
		t.Fatal("expected validation error for empty id")
	}
}

func TestRegistryLookupUnknown(t *testing.T) {
	reg := NewRegistry(logger.Nop())
	if err := reg.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	_, err := reg.Lookup("missing")
	if errors.CodeOf(err) != errors.ErrCodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRegistryValidateConfig(t *testing.T) {
	reg := NewRegistry(logger.Nop(), NewStaticDiscoverer(
		testDescriptor("whisper-local", CategorySTT),
	))
	if err := reg.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	tests := []struct {
		name     string
		cfg      map[string]any
		wantCode errors.ErrorCode
	}{
		{"valid", map[string]any{"model": "base", "language": "en"}, ""},
		{"missing required", map[string]any{"language": "en"}, errors.ErrCodeConfigInvalid},
		{"unknown field", map[string]any{"model": "base", "gpu": true}, errors.ErrCodeConfigInvalid},
		{"wrong type", map[string]any{"model": 42}, errors.ErrCodeConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.ValidateConfig("whisper-local", tt.cfg)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if errors.CodeOf(err) != tt.wantCode {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestRegistryValidateConfigUnknownProvider(t *testing.T) {
	reg := NewRegistry(logger.Nop())
	if err := reg.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if errors.CodeOf(reg.ValidateConfig("ghost", nil)) != errors.ErrCodeNotFound {
		t.Fatal("expected NOT_FOUND for unknown provider")
	}
}

func TestRegistryValidateConfigNoSchema(t *testing.T) {
	desc := testDescriptor("plain", CategorySearch)
	desc.ConfigSchema = nil
	reg := NewRegistry(logger.Nop(), NewStaticDiscoverer(desc))
	if err := reg.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}

	if err := reg.ValidateConfig("plain", nil); err != nil {
		t.Fatalf("nil config should pass: %v", err)
	}
	if errors.CodeOf(reg.ValidateConfig("plain", map[string]any{"x": 1})) != errors.ErrCodeConfigInvalid {
		t.Fatal("expected CONFIG_INVALID for config on schema-less provider")
	}
}

func TestCategoryValid(t *testing.T) {
	for _, c := range []Category{CategorySTT, CategoryTTS, CategorySearch, CategorySystem} {
		if !c.Valid() {
			t.Errorf("category %q should be valid", c)
		}
	}
	if Category("video").Valid() {
		t.Error("unknown category should be invalid")
	}
}
