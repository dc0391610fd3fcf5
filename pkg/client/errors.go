package client

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies pipeline failures
type Kind int

const (
	// KindTransport: the outbound call failed (network, DNS, TLS, cancellation).
	KindTransport Kind = iota + 1
	// KindHeaderEncoding: the session token is not a valid header value.
	KindHeaderEncoding
	// KindRequestBuild: the request could not be built from the route.
	KindRequestBuild
	// KindBodyParsing: the response did not match the expected schema.
	KindBodyParsing
	// KindBackend: the cache backend malfunctioned.
	KindBackend
	// KindCacheConversion: a cached value could not be decoded as the requested type.
	KindCacheConversion
	// KindConversion: a fetched value could not be serialized for the cache.
	KindConversion
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHeaderEncoding:
		return "header encoding"
	case KindRequestBuild:
		return "request build"
	case KindBodyParsing:
		return "body parsing"
	case KindBackend:
		return "cache backend"
	case KindCacheConversion:
		return "cache conversion"
	case KindConversion:
		return "conversion"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the single error type returned by the fetch pipeline
type Error struct {
	Kind  Kind
	Route string

	// Path is the JSON path at which parsing failed, KindBodyParsing only.
	Path string
	// Snippet is the raw JSON found at Path, or the bytes around a syntax error.
	Snippet string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Route != "" {
		fmt.Fprintf(&b, " for %q", e.Route)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Snippet != "" {
		fmt.Fprintf(&b, " (near %s)", e.Snippet)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a pipeline *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
