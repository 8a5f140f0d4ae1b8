package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTimeout is wrapped by every TransportError caused by the request
	// deadline expiring.
	ErrTimeout = errors.New("detection request timed out")
	// ErrNoImage is returned for frames that carry no raster.
	ErrNoImage = errors.New("frame has no image")
)

// TransportError reports a failed detection call. It is scoped to the one
// request that produced it.
type TransportError struct {
	Op       string // encode, send, decode
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the request was abandoned at its deadline.
func (e *TransportError) Timeout() bool { return errors.Is(e.Err, ErrTimeout) }

// DecodeError means the response body was not a valid result payload.
type DecodeError struct {
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string {
	const max = 128
	body := e.Body
	if len(body) > max {
		body = body[:max]
	}
	return fmt.Sprintf("invalid result payload %q: %v", body, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a deadline failure from any binding.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsDecode reports whether err carries a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// wrapTimeout converts context and network deadline failures into ErrTimeout.
func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
