package types

import (
	aeerrors "github.com/aewave/aewave/internal/errors"
)

// Sentinel errors for errors.Is. Returned errors carry details (file, table,
// identifier, mode) but match these by category and code.
var (
	ErrInvalidMode          = aeerrors.NewAccessError(aeerrors.CodeInvalidMode, "invalid access mode")
	ErrUnsupportedOperation = aeerrors.NewAccessError(aeerrors.CodeUnsupportedOperation, "unsupported operation")
	ErrExtensionMismatch    = aeerrors.NewAccessError(aeerrors.CodeExtensionMismatch, "file extension mismatch")
	ErrReadOnlyViolation    = aeerrors.NewAccessError(aeerrors.CodeReadOnlyViolation, "database opened read-only")
	ErrNotConnected         = aeerrors.NewAccessError(aeerrors.CodeNotConnected, "database not connected")
	ErrMissingRequiredTable = aeerrors.NewSchemaError(aeerrors.CodeMissingRequiredTable, "required table missing")
	ErrFieldNotFound        = aeerrors.NewSchemaError(aeerrors.CodeFieldNotFound, "field is not a column of the data table")
	ErrParameterNotFound    = aeerrors.NewLookupError(aeerrors.CodeParameterNotFound, "parameter not found")
	ErrTRAINotFound         = aeerrors.NewLookupError(aeerrors.CodeTRAINotFound, "transient record not found")
	ErrUnsupportedFormat    = aeerrors.NewCodecError(aeerrors.CodeUnsupportedFormat, "unsupported data format")
	ErrCorruptBlob          = aeerrors.NewCodecError(aeerrors.CodeCorruptBlob, "corrupt data blob")
	ErrSampleRateMismatch   = aeerrors.NewCodecError(aeerrors.CodeSampleRateMismatch, "samplerate changed within channel")
	ErrRecordOutOfOrder     = aeerrors.NewCodecError(aeerrors.CodeRecordOutOfOrder, "record starts before the previous one")
	ErrNonMonotonicTime     = aeerrors.NewSchemaError(aeerrors.CodeNonMonotonicTime, "time must not decrease")
	ErrFileExists           = aeerrors.NewStorageError(aeerrors.CodeFileExists, "file already exists", nil)
)
