package plugin

// Category identifies the capability a provider supplies.
type Category string

const (
	// CategorySystem is a generic host-extension plugin with free-form methods.
	CategorySystem Category = "system"
	// CategorySTT provides speech-to-text transcription.
	CategorySTT Category = "stt"
	// CategoryTTS provides text-to-speech synthesis.
	CategoryTTS Category = "tts"
	// CategorySearch provides text search with markdown summaries.
	CategorySearch Category = "search"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategorySystem, CategorySTT, CategoryTTS, CategorySearch:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// AllowsConcurrentCalls reports whether multiple calls may be in flight on a
// single satellite of this category. STT and TTS providers are not written
// for reentrancy, so every category currently serializes; the hook exists so
// the channel can interleave streams for categories that opt in later.
func (c Category) AllowsConcurrentCalls() bool {
	return false
}
