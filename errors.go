package portalkit

import (
	"errors"
	"fmt"
)

// Sentinel errors for the certificate and package processing pipelines.
// Pipeline stages wrap these with fmt.Errorf("...: %w", err) so callers can
// match with errors.Is while still seeing the full context chain.
var (
	// ErrInputNotFound indicates the input artifact does not exist on disk.
	ErrInputNotFound = errors.New("input file not found")

	// ErrMissingKeyMaterial indicates no key material (.p12/.pfx) could be
	// located, either on disk or inside a certificate bundle.
	ErrMissingKeyMaterial = errors.New("missing key material")

	// ErrMissingProvisioningProfile indicates no provisioning profile could
	// be located, either on disk or inside a certificate bundle.
	ErrMissingProvisioningProfile = errors.New("missing provisioning profile")

	// ErrBundleDecode indicates a certificate bundle container is unreadable.
	ErrBundleDecode = errors.New("certificate bundle unreadable")

	// ErrBundleEncode indicates certificate bundle archive creation failed.
	ErrBundleEncode = errors.New("certificate bundle creation failed")

	// ErrResponseDecode indicates the signing service returned a 2xx response
	// whose body could not be decoded.
	ErrResponseDecode = errors.New("malformed signing service response")

	// ErrPersistence indicates a store read or write failed. Every database
	// failure surfaced by the store wraps it, so callers can classify the
	// whole family with errors.Is without matching driver error strings.
	ErrPersistence = errors.New("persistent store failure")
)

// ServerError is returned when the remote signing service responds with a
// non-2xx status. Message carries the raw response body text, which the
// service uses for human-readable rejection reasons.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("signing service rejected request (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("signing service rejected request (HTTP %d): %s", e.StatusCode, e.Message)
}
