package protocol

import (
	"errors"
	"fmt"
)

// Kinds of decode failure, usable with errors.Is on a *DecodeError.
var (
	ErrTruncated          = errors.New("truncated datagram")
	ErrMalformed          = errors.New("malformed datagram")
	ErrUnsupportedVersion = errors.New("unsupported export version")
)

// DecodeError describes why a datagram was rejected. No records are produced
// from a datagram that fails to decode.
type DecodeError struct {
	Version uint16
	Kind    error
	Detail  string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("netflow v%d: %v", e.Version, e.Kind)
	}
	return fmt.Sprintf("netflow v%d: %v: %s", e.Version, e.Kind, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Kind }

func truncated(version uint16, format string, args ...any) error {
	return &DecodeError{Version: version, Kind: ErrTruncated, Detail: fmt.Sprintf(format, args...)}
}

func malformed(version uint16, format string, args ...any) error {
	return &DecodeError{Version: version, Kind: ErrMalformed, Detail: fmt.Sprintf(format, args...)}
}
