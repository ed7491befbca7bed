package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// TrustReason classifies why a certificate input was refused or why a peer's
// content must be ignored.
type TrustReason string

const (
	TrustReasonUntrusted TrustReason = "untrusted"
	TrustReasonExpired   TrustReason = "expired"
	TrustReasonRevoked   TrustReason = "revoked"
	TrustReasonRejected  TrustReason = "rejected"
	TrustReasonDowngrade TrustReason = "downgrade"
)

// TrustError reports a refused trust decision. The peer's recorded state is
// left unchanged by the operation that returned it.
type TrustError struct {
	Peer   string
	Reason TrustReason
	Detail string
}

func (e TrustError) Error() string {
	msg := fmt.Sprintf("trust refused for %s: %s", e.Peer, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is enables errors.Is matching on TrustError.
func (e TrustError) Is(target error) bool {
	_, ok := target.(TrustError)
	if ok {
		return true
	}
	_, ok = target.(*TrustError)
	return ok
}

// ErrTrust is the sentinel error for trust refusals.
var ErrTrust = TrustError{}
