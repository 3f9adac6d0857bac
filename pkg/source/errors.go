package source

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat means the source content is not parseable tabular data. The
	// same bytes will fail again, so retrying is pointless.
	ErrFormat = errors.New("source content is not tabular data")

	// ErrUnavailable means the upstream could not be reached or answered
	// with a server error. Transient; worth retrying.
	ErrUnavailable = errors.New("source unavailable")

	// ErrAuthExpired is the unavailable subtype for rejected credentials.
	// The user must reauthorize the connection; retrying is pointless until
	// then.
	ErrAuthExpired = fmt.Errorf("%w: authorization expired", ErrUnavailable)
)
