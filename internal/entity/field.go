package entity

import "github.com/egtimer/invoice-ai-processor/constants"

// Field pairs an extracted value with a confidence score in [0,1] and the
// provenance of the extractor that last set it.
type Field[T any] struct {
	Value      T
	Confidence float64
	Source     constants.Provenance
}

// NewField builds a Field, clamping confidence into [0,1].
func NewField[T any](value T, confidence float64, source constants.Provenance) Field[T] {
	return Field[T]{Value: value, Confidence: clamp01(confidence), Source: source}
}

// Missing returns a zero-valued field with confidence 0. Absent fields are
// represented this way instead of failing extraction.
func Missing[T any](source constants.Provenance) Field[T] {
	var zero T
	return Field[T]{Value: zero, Confidence: 0, Source: source}
}

// Present reports whether the field was actually extracted.
func (f Field[T]) Present() bool {
	return f.Confidence > 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
