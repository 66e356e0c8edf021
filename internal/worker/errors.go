package worker

import "errors"

// PermanentError marks a processing failure with no retry value:
// malformed payloads, missing templates or recipient groups, parameter
// contract violations. The consumer records these as failed and settles
// the work item instead of rescheduling it, so a configuration error
// cannot cause endless pointless redelivery.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked as not worth retrying.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
