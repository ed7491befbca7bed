package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/internal/domain"
)

// TrustUsecase owns the per-peer certificate state machine. Writes are
// serialized under one mutex; TrustStateOf reads an atomically swapped
// snapshot and never waits on an in-flight verification.
type TrustUsecase struct {
	peers    PeerRepository
	certs    CertificateRepository
	verifier SignatureVerifier

	mu     sync.Mutex
	states atomic.Pointer[map[string]domain.TrustState]

	now func() time.Time
}

func NewTrustUsecase(peers PeerRepository, certs CertificateRepository, verifier SignatureVerifier) *TrustUsecase {
	uc := &TrustUsecase{
		peers:    peers,
		certs:    certs,
		verifier: verifier,
		now:      time.Now,
	}
	empty := map[string]domain.TrustState{}
	uc.states.Store(&empty)
	return uc
}

// Prime loads the persisted peer states into the snapshot. Call once at
// startup.
func (uc *TrustUsecase) Prime(ctx context.Context) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	peers, err := uc.peers.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load peers")
	}
	states := make(map[string]domain.TrustState, len(peers))
	for _, p := range peers {
		states[p.Identifier] = normalizeState(p.TrustState)
	}
	uc.states.Store(&states)
	return nil
}

// TrustStateOf returns the current state for a peer identifier. Peers never
// seen before are Unknown.
func (uc *TrustUsecase) TrustStateOf(identifier string) domain.TrustState {
	states := *uc.states.Load()
	if s, ok := states[identifier]; ok {
		return s
	}
	return domain.TrustUnknown
}

// Subscribe registers a peer for syncing. An existing peer keeps its trust
// state and cursors; only endpoint and name are refreshed.
func (uc *TrustUsecase) Subscribe(ctx context.Context, identifier, endpoint, name string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	peer := domain.Peer{
		Identifier: identifier,
		Endpoint:   endpoint,
		Name:       name,
		TrustState: domain.TrustUnknown,
	}
	if err := uc.peers.Upsert(ctx, peer); err != nil {
		return errors.Wrap(err, "failed to store peer")
	}
	stored, err := uc.peers.Get(ctx, identifier)
	if err != nil {
		return errors.Wrap(err, "failed to load peer")
	}
	uc.setState(identifier, normalizeState(stored.TrustState))
	return nil
}

// Peers lists every known peer.
func (uc *TrustUsecase) Peers(ctx context.Context) ([]domain.Peer, error) {
	return uc.peers.List(ctx)
}

// Certificates lists every recorded certificate.
func (uc *TrustUsecase) Certificates(ctx context.Context) ([]domain.Certificate, error) {
	return uc.certs.List(ctx)
}

// TrustedPeers snapshots the peers eligible for content exchange. A trusted
// peer whose certificate has crossed notAfter is revoked here, on the cycle
// boundary, and excluded.
func (uc *TrustUsecase) TrustedPeers(ctx context.Context) ([]domain.Peer, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	peers, err := uc.peers.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load peers")
	}
	now := uc.now()
	var trusted []domain.Peer
	for i := range peers {
		if err := uc.sweepLocked(ctx, &peers[i], now); err != nil {
			return nil, err
		}
		if peers[i].TrustState == domain.TrustTrusted {
			trusted = append(trusted, peers[i])
		}
	}
	return trusted, nil
}

// RecordCertificate applies one certificate document to the state machine
// and returns the peer's resulting state. A refused input leaves the state
// untouched and reports why via TrustError; replaying bytes that were
// already applied returns the same state with no further effect.
func (uc *TrustUsecase) RecordCertificate(ctx context.Context, doc *asoc.Certificate) (domain.TrustState, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	cert, err := domain.CertificateFromDocument(doc)
	if err != nil {
		return domain.TrustUnknown, err
	}
	now := uc.now()

	peer, err := uc.peers.Get(ctx, cert.Subject)
	if errors.Is(err, domain.ErrNotFound) {
		peer = domain.Peer{Identifier: cert.Subject, TrustState: domain.TrustUnknown}
		if err := uc.peers.Upsert(ctx, peer); err != nil {
			return domain.TrustUnknown, errors.Wrap(err, "failed to store peer")
		}
		uc.setState(peer.Identifier, domain.TrustUnknown)
	} else if err != nil {
		return domain.TrustUnknown, errors.Wrap(err, "failed to load peer")
	}
	peer.TrustState = normalizeState(peer.TrustState)

	// The stored certificate may have expired since the last input.
	if err := uc.sweepLocked(ctx, &peer, now); err != nil {
		return peer.TrustState, err
	}

	switch peer.TrustState {
	case domain.TrustTrusted:
		return uc.recordForTrusted(ctx, peer, cert, now)

	case domain.TrustRevoked:
		if cert.Fingerprint == peer.Fingerprint {
			return domain.TrustRevoked, domain.TrustError{
				Peer:   peer.Identifier,
				Reason: domain.TrustReasonRevoked,
				Detail: "fingerprint was revoked",
			}
		}
		// Re-admission starts a fresh cycle under the new fingerprint.
		return uc.admit(ctx, peer, cert, now)

	case domain.TrustRejected:
		stored, err := uc.certs.Get(ctx, peer.Fingerprint)
		if err == nil && stored.Raw == cert.Raw {
			return domain.TrustRejected, domain.TrustError{
				Peer:   peer.Identifier,
				Reason: domain.TrustReasonRejected,
				Detail: "certificate was already rejected",
			}
		}
		return uc.admit(ctx, peer, cert, now)

	default: // Unknown, Pending
		return uc.admit(ctx, peer, cert, now)
	}
}

// admit runs the Pending cycle for a peer that is not currently trusted:
// record the certificate, then let the anchor check settle the state.
func (uc *TrustUsecase) admit(ctx context.Context, peer domain.Peer, cert domain.Certificate, now time.Time) (domain.TrustState, error) {
	if cert.Revoked {
		return peer.TrustState, domain.TrustError{
			Peer:   peer.Identifier,
			Reason: domain.TrustReasonUntrusted,
			Detail: "revocation for a fingerprint that was never trusted",
		}
	}
	if !cert.ValidAt(now) {
		return peer.TrustState, domain.TrustError{
			Peer:   peer.Identifier,
			Reason: domain.TrustReasonExpired,
			Detail: "certificate outside its validity window",
		}
	}

	if err := uc.certs.Save(ctx, cert); err != nil {
		return peer.TrustState, errors.Wrap(err, "failed to store certificate")
	}
	if err := uc.transition(ctx, peer.Identifier, domain.TrustPending, cert.Fingerprint); err != nil {
		return peer.TrustState, err
	}

	switch uc.verifier.Verify(ctx, cert) {
	case domain.VerdictConfirmed:
		if err := uc.transition(ctx, peer.Identifier, domain.TrustTrusted, cert.Fingerprint); err != nil {
			return domain.TrustPending, err
		}
		return domain.TrustTrusted, nil

	case domain.VerdictFailed:
		if err := uc.transition(ctx, peer.Identifier, domain.TrustRejected, cert.Fingerprint); err != nil {
			return domain.TrustPending, err
		}
		return domain.TrustRejected, domain.TrustError{
			Peer:   peer.Identifier,
			Reason: domain.TrustReasonRejected,
			Detail: "signature verification failed",
		}

	default: // VerdictAwaiting
		return domain.TrustPending, nil
	}
}

// recordForTrusted applies an input to a trusted peer. The only way down is
// a revocation notice naming the trusted fingerprint; anything else either
// rotates the certificate (when the replacement itself verifies) or is
// refused without touching the state.
func (uc *TrustUsecase) recordForTrusted(ctx context.Context, peer domain.Peer, cert domain.Certificate, now time.Time) (domain.TrustState, error) {
	if cert.Revoked {
		if cert.Fingerprint != peer.Fingerprint {
			return domain.TrustTrusted, domain.TrustError{
				Peer:   peer.Identifier,
				Reason: domain.TrustReasonDowngrade,
				Detail: "revocation does not name the trusted fingerprint",
			}
		}
		if err := uc.certs.Save(ctx, cert); err != nil {
			return domain.TrustTrusted, errors.Wrap(err, "failed to store revocation")
		}
		if err := uc.transition(ctx, peer.Identifier, domain.TrustRevoked, peer.Fingerprint); err != nil {
			return domain.TrustTrusted, err
		}
		return domain.TrustRevoked, nil
	}

	if cert.Fingerprint == peer.Fingerprint {
		stored, err := uc.certs.Get(ctx, peer.Fingerprint)
		if err == nil && stored.Raw == cert.Raw {
			return domain.TrustTrusted, nil
		}
	}

	if !cert.ValidAt(now) {
		return domain.TrustTrusted, domain.TrustError{
			Peer:   peer.Identifier,
			Reason: domain.TrustReasonExpired,
			Detail: "certificate outside its validity window",
		}
	}
	if uc.verifier.Verify(ctx, cert) != domain.VerdictConfirmed {
		return domain.TrustTrusted, domain.TrustError{
			Peer:   peer.Identifier,
			Reason: domain.TrustReasonDowngrade,
			Detail: "replacement certificate did not verify",
		}
	}

	if err := uc.certs.Save(ctx, cert); err != nil {
		return domain.TrustTrusted, errors.Wrap(err, "failed to store certificate")
	}
	if err := uc.transition(ctx, peer.Identifier, domain.TrustTrusted, cert.Fingerprint); err != nil {
		return domain.TrustTrusted, err
	}
	return domain.TrustTrusted, nil
}

// sweepLocked applies expiry of the peer's stored certificate: a pending
// certificate that expires before its first success is terminally rejected,
// a trusted one revokes the peer. Caller holds mu.
func (uc *TrustUsecase) sweepLocked(ctx context.Context, peer *domain.Peer, now time.Time) error {
	if peer.Fingerprint == "" {
		return nil
	}
	if peer.TrustState != domain.TrustPending && peer.TrustState != domain.TrustTrusted {
		return nil
	}
	stored, err := uc.certs.Get(ctx, peer.Fingerprint)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to load certificate")
	}
	if !stored.ExpiredAt(now) {
		return nil
	}
	next := domain.TrustRejected
	if peer.TrustState == domain.TrustTrusted {
		next = domain.TrustRevoked
	}
	if err := uc.transition(ctx, peer.Identifier, next, peer.Fingerprint); err != nil {
		return err
	}
	peer.TrustState = next
	return nil
}

func (uc *TrustUsecase) transition(ctx context.Context, identifier string, state domain.TrustState, fingerprint string) error {
	if err := uc.peers.UpdateTrust(ctx, identifier, state, fingerprint); err != nil {
		return errors.Wrap(err, "failed to update trust state")
	}
	uc.setState(identifier, state)
	return nil
}

// setState publishes a new snapshot with one entry changed. Caller holds mu.
func (uc *TrustUsecase) setState(identifier string, state domain.TrustState) {
	old := *uc.states.Load()
	states := make(map[string]domain.TrustState, len(old)+1)
	for k, v := range old {
		states[k] = v
	}
	states[identifier] = state
	uc.states.Store(&states)
}

func normalizeState(s domain.TrustState) domain.TrustState {
	if s == "" {
		return domain.TrustUnknown
	}
	return s
}
