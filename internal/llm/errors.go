package llm

import "errors"

// ErrNoAvailableKey means every configured API key is cooling off. The
// worker releases its claim without counting an attempt.
var ErrNoAvailableKey = errors.New("all api keys in cooldown")

// TemporaryError marks a failure worth retrying (timeout, 429, 5xx,
// connection error, open circuit).
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string { return "temporary: " + e.Err.Error() }
func (e *TemporaryError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not improve with retries (4xx,
// unparseable response).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTemporary reports whether err is retryable.
func IsTemporary(err error) bool {
	var t *TemporaryError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is terminal.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
