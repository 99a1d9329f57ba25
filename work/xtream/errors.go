package xtream

import (
	"errors"
	"fmt"
)

// Error taxonomy for the RPC layer. The distinction that matters to
// callers is retryability: a server verdict (401/403) is terminal, while
// transport faults and malformed bodies fall through to the next relay.
var (
	// ErrInvalidCredentials marks a server verdict (HTTP 401/403 or a
	// rejected auth response). Never retried across relay paths.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTransportUnreachable marks network-level failures: connection
	// refused, timeout, non-success HTTP status. Retried on the next path.
	ErrTransportUnreachable = errors.New("server unreachable")

	// ErrMalformedResponse marks a reachable endpoint returning something
	// that is not the expected JSON: an empty body, an HTML error page or
	// unparseable text. Usually a broken relay; retried on the next path.
	ErrMalformedResponse = errors.New("malformed response")
)

// PathError annotates an RPC failure with the network path that produced
// it, so exhaustion errors name the relay that saw the last failure.
type PathError struct {
	Path string // "direct" or the relay name
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}
