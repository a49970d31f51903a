package errors

// Category classifies errors by their nature and retry semantics.
type Category string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: bus connection loss, store timeouts.
	CategoryTransient Category = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: malformed events, unknown event kinds.
	CategoryPermanent Category = "permanent"

	// CategoryInternal indicates unexpected errors or system failures.
	CategoryInternal Category = "internal"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c Category) IsRetryable() bool {
	return c == CategoryTransient
}

// Code identifies specific failure types within categories.
type Code string

const (
	// Transient failures.
	CodeTimeout     Code = "TIMEOUT"      // Operation timed out
	CodeUnavailable Code = "UNAVAILABLE"  // Bus or store temporarily unreachable
	CodePublish     Code = "PUBLISH_FAIL" // Event could not be appended to the stream
	CodeStoreWrite  Code = "STORE_WRITE"  // Coordination-store write failed

	// Permanent failures.
	CodeDecode     Code = "DECODE_FAIL" // Event payload could not be decoded
	CodeNotFound   Code = "NOT_FOUND"   // Record does not exist
	CodeGeneration Code = "GENERATION"  // Generator faulted; never retried
	CodeCanceled   Code = "CANCELED"    // Operation was canceled

	// Internal failures.
	CodeInternal Code = "INTERNAL" // Unexpected error
)

// defaultCategory maps codes to their categories.
var defaultCategory = map[Code]Category{
	CodeTimeout:     CategoryTransient,
	CodeUnavailable: CategoryTransient,
	CodePublish:     CategoryTransient,
	CodeStoreWrite:  CategoryTransient,
	CodeDecode:      CategoryPermanent,
	CodeNotFound:    CategoryPermanent,
	CodeGeneration:  CategoryPermanent,
	CodeCanceled:    CategoryPermanent,
	CodeInternal:    CategoryInternal,
}

// CategoryOf returns the default category for a code.
func CategoryOf(code Code) Category {
	if cat, ok := defaultCategory[code]; ok {
		return cat
	}
	return CategoryInternal
}
