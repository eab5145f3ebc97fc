package profilebuilder

import "errors"

// Sentinel errors for profile validation (§4.5, §7). Use errors.Is to
// classify a failure. Validate (and WriteFile, which calls it) wraps
// ErrValidationFailure around every invariant violation it finds,
// including duplicate ids and missing references reported by
// profile.CheckValid. ErrDuplicateID and ErrMissingReference are not
// returned by any function in this package. Finalize returns no error.
var (
	// ErrDuplicateID means two rows of the same table share an id,
	// violating "ids are dense and unique" (§3).
	ErrDuplicateID = errors.New("profilebuilder: duplicate id")

	// ErrMissingReference means some row referenced an id (a
	// mapping, function, or location id) that does not exist in its
	// table.
	ErrMissingReference = errors.New("profilebuilder: reference to missing id")

	// ErrValidationFailure covers every invariant violation
	// checked before emission: empty sample-type list, a
	// default_sample_type that names no declared type, a sample
	// whose value length doesn't match the sample-type count, a
	// label with both str and num set, or any failure of
	// profile.CheckValid.
	ErrValidationFailure = errors.New("profilebuilder: profile failed validation")
)
