package records

import (
	"errors"
	"fmt"
)

// ErrMalformedRecord marks persisted data that is missing fields or cannot be
// parsed. It indicates upstream corruption and is never defaulted away.
var ErrMalformedRecord = errors.New("malformed record")

// RecordError locates a malformed record. errors.Is(err, ErrMalformedRecord)
// holds for every RecordError.
type RecordError struct {
	Line  int
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("malformed record at line %d, field %q: %v", e.Line, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("malformed record at line %d: missing field %q", e.Line, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("malformed record at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("malformed record at line %d", e.Line)
}

func (e *RecordError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedRecord}
	}
	return []error{ErrMalformedRecord, e.Err}
}
