package domain

// OriginLocal marks posts authored on this node rather than pulled from a
// peer. Posts with any other origin carry the identifier of the peer they
// were merged from.
const OriginLocal = "local"

// ChannelPosts is the redis pub/sub channel post events are broadcast on.
const ChannelPosts = "asoc:posts"

// TrustState is the lifecycle state of a peer's certificate standing.
type TrustState string

const (
	TrustUnknown  TrustState = "unknown"
	TrustPending  TrustState = "pending"
	TrustTrusted  TrustState = "trusted"
	TrustRevoked  TrustState = "revoked"
	TrustRejected TrustState = "rejected"
)

func (s TrustState) String() string {
	if s == "" {
		return string(TrustUnknown)
	}
	return string(s)
}

// Verdict is the outcome of checking a certificate against the configured
// trust anchors.
type Verdict int

const (
	// VerdictConfirmed means the certificate's signature verified against an
	// anchor, or its fingerprint is operator-approved.
	VerdictConfirmed Verdict = iota
	// VerdictAwaiting means the manual policy has not (yet) approved the
	// fingerprint. The peer stays pending.
	VerdictAwaiting
	// VerdictFailed means signature verification failed.
	VerdictFailed
)

func (v Verdict) String() string {
	switch v {
	case VerdictConfirmed:
		return "confirmed"
	case VerdictAwaiting:
		return "awaiting"
	case VerdictFailed:
		return "failed"
	default:
		return "unknown"
	}
}
