package ssh

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

func temporary(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, IsTemporary: true}
}

func permanent(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}
