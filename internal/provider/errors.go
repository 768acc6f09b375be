package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a failed fetch.
type Kind string

const (
	KindProfileNotFound     Kind = "profile_not_found"
	KindProviderServerError Kind = "provider_server_error"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindServiceUnavailable  Kind = "service_unavailable"
	KindHTTPError           Kind = "http_error"
	KindInvalidProfileData  Kind = "invalid_profile_data"
	KindInvalidContentData  Kind = "invalid_content_data"
)

// FetchError is returned by every failed provider call.
type FetchError struct {
	Kind     Kind
	Status   int    // HTTP status, 0 when no response was received
	Endpoint string // request path, without query
	Err      error
}

func (e *FetchError) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s %s", e.Endpoint, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches any FetchError of the same Kind, so the sentinels below work
// with errors.Is.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrProfileNotFound     = &FetchError{Kind: KindProfileNotFound}
	ErrProviderServerError = &FetchError{Kind: KindProviderServerError}
	ErrProviderUnavailable = &FetchError{Kind: KindProviderUnavailable}
	ErrServiceUnavailable  = &FetchError{Kind: KindServiceUnavailable}
	ErrHTTP                = &FetchError{Kind: KindHTTPError}
	ErrInvalidProfileData  = &FetchError{Kind: KindInvalidProfileData}
	ErrInvalidContentData  = &FetchError{Kind: KindInvalidContentData}
)

// KindOf returns the Kind of err, or "" when err is not a FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

var (
	ErrMissingAPIKey = errors.New("provider API key is required")
	ErrForeignHost   = errors.New("endpoint does not resolve to the provider host")
)
