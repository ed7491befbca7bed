package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/internal/domain"
)

type memPeerRepo struct {
	mu    sync.Mutex
	peers map[string]domain.Peer
}

func newMemPeerRepo() *memPeerRepo {
	return &memPeerRepo{peers: map[string]domain.Peer{}}
}

func (m *memPeerRepo) Upsert(ctx context.Context, peer domain.Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.peers[peer.Identifier]; ok {
		cur.Endpoint = peer.Endpoint
		cur.Name = peer.Name
		m.peers[peer.Identifier] = cur
		return nil
	}
	m.peers[peer.Identifier] = peer
	return nil
}

func (m *memPeerRepo) Get(ctx context.Context, identifier string) (domain.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.peers[identifier]
	if !ok {
		return domain.Peer{}, domain.NotFoundError{Resource: "peer"}
	}
	return peer, nil
}

func (m *memPeerRepo) List(ctx context.Context) ([]domain.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Peer
	for _, p := range m.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (m *memPeerRepo) UpdateTrust(ctx context.Context, identifier string, state domain.TrustState, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.peers[identifier]
	if !ok {
		return domain.NotFoundError{Resource: "peer"}
	}
	peer.TrustState = state
	peer.Fingerprint = fingerprint
	m.peers[identifier] = peer
	return nil
}

func (m *memPeerRepo) UpdateCursor(ctx context.Context, identifier string, cur domain.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.peers[identifier]
	if !ok {
		return domain.NotFoundError{Resource: "peer"}
	}
	peer.Cursor = cur
	m.peers[identifier] = peer
	return nil
}

func (m *memPeerRepo) UpdatePushCursor(ctx context.Context, identifier string, cur domain.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.peers[identifier]
	if !ok {
		return domain.NotFoundError{Resource: "peer"}
	}
	peer.PushCursor = cur
	m.peers[identifier] = peer
	return nil
}

type memCertRepo struct {
	mu    sync.Mutex
	certs map[string]domain.Certificate
	saves int
}

func newMemCertRepo() *memCertRepo {
	return &memCertRepo{certs: map[string]domain.Certificate{}}
}

func (m *memCertRepo) Save(ctx context.Context, cert domain.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs[cert.Fingerprint] = cert
	m.saves++
	return nil
}

func (m *memCertRepo) Get(ctx context.Context, fingerprint string) (domain.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cert, ok := m.certs[fingerprint]
	if !ok {
		return domain.Certificate{}, domain.NotFoundError{Resource: "certificate"}
	}
	return cert, nil
}

func (m *memCertRepo) List(ctx context.Context) ([]domain.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Certificate
	for _, c := range m.certs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

type stubVerifier struct {
	verdicts map[string]domain.Verdict
}

func (s *stubVerifier) Verify(ctx context.Context, cert domain.Certificate) domain.Verdict {
	if v, ok := s.verdicts[cert.Fingerprint]; ok {
		return v
	}
	return domain.VerdictConfirmed
}

func fingerprint(key string) string {
	return domain.FingerprintOf([]byte(key))
}

func certDoc(subject, key string, notBefore, notAfter time.Time) *asoc.Certificate {
	return &asoc.Certificate{
		Subject:   subject,
		Algorithm: asoc.AlgorithmEd25519,
		Issuer:    "urn:example:ca",
		NotBefore: notBefore,
		NotAfter:  notAfter,
		KeyData:   base64.StdEncoding.EncodeToString([]byte(key)),
	}
}

func trustFixture(verdicts map[string]domain.Verdict) (*TrustUsecase, *memPeerRepo, *memCertRepo) {
	peers := newMemPeerRepo()
	certs := newMemCertRepo()
	uc := NewTrustUsecase(peers, certs, &stubVerifier{verdicts: verdicts})
	return uc, peers, certs
}

var trustEpoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestTrustAdmissionConfirmed(t *testing.T) {
	uc, peers, _ := trustFixture(nil)
	uc.now = func() time.Time { return trustEpoch }

	doc := certDoc("https://bob.example/", "bob-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour))
	state, err := uc.RecordCertificate(context.Background(), doc)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if state != domain.TrustTrusted {
		t.Fatalf("expected trusted, got %s", state)
	}
	if got := uc.TrustStateOf("https://bob.example/"); got != domain.TrustTrusted {
		t.Fatalf("snapshot disagrees: %s", got)
	}
	peer, err := peers.Get(context.Background(), "https://bob.example/")
	if err != nil {
		t.Fatalf("peer not created: %v", err)
	}
	if peer.Fingerprint != fingerprint("bob-key") {
		t.Fatalf("fingerprint not recorded")
	}
}

func TestTrustAwaitingApprovalStaysPending(t *testing.T) {
	uc, _, _ := trustFixture(map[string]domain.Verdict{
		fingerprint("carol-key"): domain.VerdictAwaiting,
	})
	uc.now = func() time.Time { return trustEpoch }

	doc := certDoc("https://carol.example/", "carol-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour))
	state, err := uc.RecordCertificate(context.Background(), doc)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if state != domain.TrustPending {
		t.Fatalf("expected pending, got %s", state)
	}
}

func TestTrustVerificationFailureRejects(t *testing.T) {
	uc, _, certs := trustFixture(map[string]domain.Verdict{
		fingerprint("mallory-key"): domain.VerdictFailed,
	})
	uc.now = func() time.Time { return trustEpoch }

	doc := certDoc("https://mallory.example/", "mallory-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour))
	state, err := uc.RecordCertificate(context.Background(), doc)
	if state != domain.TrustRejected {
		t.Fatalf("expected rejected, got %s", state)
	}
	var terr domain.TrustError
	if !errors.As(err, &terr) || terr.Reason != domain.TrustReasonRejected {
		t.Fatalf("expected rejection error, got %v", err)
	}

	savesAfterFirst := certs.saves
	state, err = uc.RecordCertificate(context.Background(), doc)
	if state != domain.TrustRejected || !errors.Is(err, domain.ErrTrust) {
		t.Fatalf("expected idempotent rejection, got %s, %v", state, err)
	}
	if certs.saves != savesAfterFirst {
		t.Fatalf("replay of rejected certificate caused writes")
	}
}

func TestTrustRejectedRetriesWithNewCertificate(t *testing.T) {
	uc, _, _ := trustFixture(map[string]domain.Verdict{
		fingerprint("old-key"): domain.VerdictFailed,
	})
	uc.now = func() time.Time { return trustEpoch }

	subject := "https://dave.example/"
	if state, _ := uc.RecordCertificate(context.Background(), certDoc(subject, "old-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour))); state != domain.TrustRejected {
		t.Fatalf("expected rejected, got %s", state)
	}

	state, err := uc.RecordCertificate(context.Background(), certDoc(subject, "new-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour)))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if state != domain.TrustTrusted {
		t.Fatalf("expected fresh admission to succeed, got %s", state)
	}
}

func TestTrustExpiredCertificateRefused(t *testing.T) {
	uc, peers, _ := trustFixture(nil)
	uc.now = func() time.Time { return trustEpoch }

	doc := certDoc("https://eve.example/", "eve-key", trustEpoch.Add(-2*time.Hour), trustEpoch.Add(-time.Hour))
	state, err := uc.RecordCertificate(context.Background(), doc)
	if state != domain.TrustUnknown {
		t.Fatalf("expected unknown, got %s", state)
	}
	var terr domain.TrustError
	if !errors.As(err, &terr) || terr.Reason != domain.TrustReasonExpired {
		t.Fatalf("expected expiry refusal, got %v", err)
	}
	if _, err := peers.Get(context.Background(), "https://eve.example/"); err != nil {
		t.Fatalf("peer should be created on first encounter: %v", err)
	}
}

func TestTrustRevocationIsTerminal(t *testing.T) {
	uc, _, _ := trustFixture(nil)
	uc.now = func() time.Time { return trustEpoch }

	subject := "https://bob.example/"
	original := certDoc(subject, "bob-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(24*time.Hour))
	if state, err := uc.RecordCertificate(context.Background(), original); err != nil || state != domain.TrustTrusted {
		t.Fatalf("admission failed: %s, %v", state, err)
	}

	notice := certDoc(subject, "bob-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(24*time.Hour))
	notice.Revoked = true
	state, err := uc.RecordCertificate(context.Background(), notice)
	if err != nil {
		t.Fatalf("revocation failed: %v", err)
	}
	if state != domain.TrustRevoked {
		t.Fatalf("expected revoked, got %s", state)
	}

	// The revoked fingerprint can never come back.
	state, err = uc.RecordCertificate(context.Background(), original)
	if state != domain.TrustRevoked {
		t.Fatalf("expected revoked to be terminal, got %s", state)
	}
	var terr domain.TrustError
	if !errors.As(err, &terr) || terr.Reason != domain.TrustReasonRevoked {
		t.Fatalf("expected revoked refusal, got %v", err)
	}

	// A new key starts a fresh admission cycle.
	state, err = uc.RecordCertificate(context.Background(), certDoc(subject, "bob-key-2", trustEpoch.Add(-time.Hour), trustEpoch.Add(24*time.Hour)))
	if err != nil || state != domain.TrustTrusted {
		t.Fatalf("re-admission under new key failed: %s, %v", state, err)
	}
}

func TestTrustDowngradeProtection(t *testing.T) {
	uc, peers, _ := trustFixture(map[string]domain.Verdict{
		fingerprint("forged-key"): domain.VerdictFailed,
	})
	uc.now = func() time.Time { return trustEpoch }

	subject := "https://bob.example/"
	if state, err := uc.RecordCertificate(context.Background(), certDoc(subject, "bob-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour))); err != nil || state != domain.TrustTrusted {
		t.Fatalf("admission failed: %s, %v", state, err)
	}

	state, err := uc.RecordCertificate(context.Background(), certDoc(subject, "forged-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour)))
	if state != domain.TrustTrusted {
		t.Fatalf("trusted peer was downgraded to %s", state)
	}
	var terr domain.TrustError
	if !errors.As(err, &terr) || terr.Reason != domain.TrustReasonDowngrade {
		t.Fatalf("expected downgrade refusal, got %v", err)
	}
	peer, _ := peers.Get(context.Background(), subject)
	if peer.Fingerprint != fingerprint("bob-key") {
		t.Fatalf("trusted fingerprint was replaced")
	}
}

func TestTrustIdempotentReplay(t *testing.T) {
	uc, _, certs := trustFixture(nil)
	uc.now = func() time.Time { return trustEpoch }

	doc := certDoc("https://bob.example/", "bob-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour))
	if state, err := uc.RecordCertificate(context.Background(), doc); err != nil || state != domain.TrustTrusted {
		t.Fatalf("admission failed: %s, %v", state, err)
	}
	saves := certs.saves

	state, err := uc.RecordCertificate(context.Background(), doc)
	if err != nil || state != domain.TrustTrusted {
		t.Fatalf("replay failed: %s, %v", state, err)
	}
	if certs.saves != saves {
		t.Fatalf("replay caused %d extra writes", certs.saves-saves)
	}
}

func TestTrustExpirySweepRevokesTrusted(t *testing.T) {
	uc, _, _ := trustFixture(nil)
	now := trustEpoch
	uc.now = func() time.Time { return now }

	doc := certDoc("https://bob.example/", "bob-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour))
	if state, err := uc.RecordCertificate(context.Background(), doc); err != nil || state != domain.TrustTrusted {
		t.Fatalf("admission failed: %s, %v", state, err)
	}

	now = trustEpoch.Add(2 * time.Hour)
	trusted, err := uc.TrustedPeers(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(trusted) != 0 {
		t.Fatalf("expired peer still trusted")
	}
	if got := uc.TrustStateOf("https://bob.example/"); got != domain.TrustRevoked {
		t.Fatalf("expected revoked after expiry, got %s", got)
	}
}

func TestTrustSubscribeKeepsExistingState(t *testing.T) {
	uc, peers, _ := trustFixture(nil)
	uc.now = func() time.Time { return trustEpoch }

	subject := "https://bob.example/"
	if state, err := uc.RecordCertificate(context.Background(), certDoc(subject, "bob-key", trustEpoch.Add(-time.Hour), trustEpoch.Add(time.Hour))); err != nil || state != domain.TrustTrusted {
		t.Fatalf("admission failed: %s, %v", state, err)
	}

	if err := uc.Subscribe(context.Background(), subject, "https://bob.example/.well-known/asoc", "bob"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	peer, _ := peers.Get(context.Background(), subject)
	if peer.TrustState != domain.TrustTrusted {
		t.Fatalf("subscribe reset trust to %s", peer.TrustState)
	}
	if peer.Endpoint != "https://bob.example/.well-known/asoc" {
		t.Fatalf("subscribe did not refresh endpoint")
	}
}
