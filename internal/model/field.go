package model

// FieldState is the state of an optional field in a partial update.
type FieldState int

const (
	// FieldAbsent means the request did not mention the field; keep it.
	FieldAbsent FieldState = iota
	// FieldSet means overwrite the field with Value.
	FieldSet
	// FieldCleared means the request named the field with an empty value.
	FieldCleared
)

// Field is a three-state patch value.
//
// WHY NOT A POINTER?
// A *string can say "absent" (nil) or "present", but it can't tell
// "present and empty" apart from "present with a value" without the caller
// re-checking emptiness everywhere. Field makes the three cases explicit:
//
//	Field[string]{}             → leave the stored value alone
//	Set("new text")             → overwrite
//	Clear[string]()             → remove the stored value
type Field[T any] struct {
	State FieldState
	Value T
}

// Set returns a Field that overwrites with v.
func Set[T any](v T) Field[T] {
	return Field[T]{State: FieldSet, Value: v}
}

// Clear returns a Field that removes the stored value.
func Clear[T any]() Field[T] {
	return Field[T]{State: FieldCleared}
}

// Present reports whether the field was named in the request at all.
func (f Field[T]) Present() bool {
	return f.State != FieldAbsent
}
