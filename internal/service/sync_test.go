package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/client"
	"github.com/partim/atomtools/internal/config"
	"github.com/partim/atomtools/internal/domain"
	"github.com/partim/atomtools/internal/usecase"
)

type memPosts struct {
	mu   sync.Mutex
	recs map[string]domain.PostRecord
}

func newMemPosts() *memPosts {
	return &memPosts{recs: map[string]domain.PostRecord{}}
}

func (m *memPosts) Save(ctx context.Context, rec domain.PostRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.recs[rec.ID]; ok && !cur.Updated.Before(rec.Updated) {
		return false, nil
	}
	m.recs[rec.ID] = rec
	return true, nil
}

func (m *memPosts) Get(ctx context.Context, id string) (domain.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return domain.PostRecord{}, domain.NotFoundError{Resource: "post"}
	}
	return rec, nil
}

func (m *memPosts) ListSince(ctx context.Context, cur domain.Cursor, limit int) ([]domain.PostRecord, error) {
	return m.list(cur, limit, "")
}

func (m *memPosts) ListOriginSince(ctx context.Context, origin string, cur domain.Cursor, limit int) ([]domain.PostRecord, error) {
	return m.list(cur, limit, origin)
}

func (m *memPosts) list(cur domain.Cursor, limit int, origin string) ([]domain.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PostRecord
	for _, rec := range m.recs {
		if origin != "" && rec.Origin != origin {
			continue
		}
		if cur.Less(rec.Cursor()) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor().Less(out[j].Cursor()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memPeers struct {
	mu    sync.Mutex
	peers map[string]domain.Peer
}

func newMemPeers() *memPeers {
	return &memPeers{peers: map[string]domain.Peer{}}
}

func (m *memPeers) Upsert(ctx context.Context, peer domain.Peer) error {
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

func (m *memPeers) Get(ctx context.Context, identifier string) (domain.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.peers[identifier]
	if !ok {
		return domain.Peer{}, domain.NotFoundError{Resource: "peer"}
	}
	return peer, nil
}

func (m *memPeers) List(ctx context.Context) ([]domain.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Peer
	for _, p := range m.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (m *memPeers) UpdateTrust(ctx context.Context, identifier string, state domain.TrustState, fingerprint string) error {
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

func (m *memPeers) UpdateCursor(ctx context.Context, identifier string, cur domain.Cursor) error {
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

func (m *memPeers) UpdatePushCursor(ctx context.Context, identifier string, cur domain.Cursor) error {
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

type memCerts struct {
	mu    sync.Mutex
	certs map[string]domain.Certificate
}

func newMemCerts() *memCerts {
	return &memCerts{certs: map[string]domain.Certificate{}}
}

func (m *memCerts) Save(ctx context.Context, cert domain.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs[cert.Fingerprint] = cert
	return nil
}

func (m *memCerts) Get(ctx context.Context, fingerprint string) (domain.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cert, ok := m.certs[fingerprint]
	if !ok {
		return domain.Certificate{}, domain.NotFoundError{Resource: "certificate"}
	}
	return cert, nil
}

func (m *memCerts) List(ctx context.Context) ([]domain.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Certificate
	for _, c := range m.certs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

type allowAllVerifier struct{}

func (allowAllVerifier) Verify(ctx context.Context, cert domain.Certificate) domain.Verdict {
	return domain.VerdictConfirmed
}

type fakeGateway struct {
	mu           sync.Mutex
	pageAttempts int

	fetchService func(ctx context.Context, endpoint string) (*asoc.Service, error)
	fetchPage    func(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error)
	fetchCerts   func(ctx context.Context, certsURL string) (*asoc.Node, error)
	hasPost      func(ctx context.Context, postsURL, id string) (bool, error)
	publishPost  func(ctx context.Context, postsURL string, post *asoc.Post) error
}

func (g *fakeGateway) FetchService(ctx context.Context, endpoint string) (*asoc.Service, error) {
	if g.fetchService == nil {
		return testServiceDoc(), nil
	}
	return g.fetchService(ctx, endpoint)
}

func (g *fakeGateway) FetchPage(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
	g.mu.Lock()
	g.pageAttempts++
	g.mu.Unlock()
	if g.fetchPage == nil {
		return asoc.Encode(&asoc.Feed{ID: "urn:feed:empty"}), nil
	}
	return g.fetchPage(ctx, postsURL, cur, limit)
}

func (g *fakeGateway) FetchCertificates(ctx context.Context, certsURL string) (*asoc.Node, error) {
	if g.fetchCerts == nil {
		return asoc.Encode(&asoc.Certificates{}), nil
	}
	return g.fetchCerts(ctx, certsURL)
}

func (g *fakeGateway) HasPost(ctx context.Context, postsURL, id string) (bool, error) {
	if g.hasPost == nil {
		return true, nil
	}
	return g.hasPost(ctx, postsURL, id)
}

func (g *fakeGateway) PublishPost(ctx context.Context, postsURL string, post *asoc.Post) error {
	if g.publishPost == nil {
		return nil
	}
	return g.publishPost(ctx, postsURL, post)
}

func (g *fakeGateway) attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pageAttempts
}

func testServiceDoc() *asoc.Service {
	return &asoc.Service{
		Links: []asoc.Link{
			{Rel: asoc.RelPosts, Href: "https://bob.example/api/v1/posts"},
			{Rel: asoc.RelCertificates, Href: "https://bob.example/api/v1/certificates"},
		},
	}
}

func syncPost(id string, updated time.Time, body string) asoc.Post {
	return asoc.Post{
		ID:      id,
		Authors: []asoc.Person{{Name: "bob"}},
		Content: &asoc.Text{Type: asoc.TextPlain, Body: body},
		Updated: updated,
	}
}

func feedPage(posts ...asoc.Post) *asoc.Node {
	return asoc.Encode(&asoc.Feed{ID: "urn:feed:bob", Posts: posts})
}

type syncFixture struct {
	posts *memPosts
	peers *memPeers
	certs *memCerts
	trust *usecase.TrustUsecase
	feed  *usecase.FeedUsecase
	svc   *SyncService
}

func testSyncConf() config.Sync {
	return config.Sync{
		IntervalSeconds:    60,
		MaxRetryAttempts:   3,
		RequestTimeoutMs:   1000,
		MaxConcurrentPeers: 2,
		PageLimit:          100,
	}
}

func newSyncFixture(t *testing.T, gw PeerGateway) *syncFixture {
	t.Helper()
	posts := newMemPosts()
	peers := newMemPeers()
	certs := newMemCerts()
	trust := usecase.NewTrustUsecase(peers, certs, allowAllVerifier{})
	feed := usecase.NewFeedUsecase(posts, nil)
	svc := NewSyncService(testSyncConf(), trust, feed, peers, gw)
	svc.backoffBase = time.Millisecond
	svc.backoffMax = 4 * time.Millisecond
	return &syncFixture{posts: posts, peers: peers, certs: certs, trust: trust, feed: feed, svc: svc}
}

func (f *syncFixture) seedTrustedPeer(t *testing.T, identifier string, cursor domain.Cursor) {
	t.Helper()
	ctx := context.Background()
	if err := f.peers.Upsert(ctx, domain.Peer{
		Identifier: identifier,
		Endpoint:   identifier + ".well-known/asoc",
		TrustState: domain.TrustTrusted,
		Cursor:     cursor,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := f.trust.Prime(ctx); err != nil {
		t.Fatalf("prime failed: %v", err)
	}
}

func TestSyncCycleAdvancesCursor(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	gw := &fakeGateway{
		fetchPage: func(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
			// Transport order is deliberately scrambled.
			return feedPage(
				syncPost("urn:uuid:p3", t1, "three"),
				syncPost("urn:uuid:p1", t0, "one"),
				syncPost("urn:uuid:p2", t1, "two"),
			), nil
		},
	}
	f := newSyncFixture(t, gw)
	f.seedTrustedPeer(t, "https://bob.example/", domain.Cursor{Updated: t0, ID: "urn:uuid:p1"})

	results := f.svc.RunCycle(context.Background())
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Pulled != 2 {
		t.Fatalf("expected 2 pulled, got %d", results[0].Pulled)
	}

	peer, _ := f.peers.Get(context.Background(), "https://bob.example/")
	want := domain.Cursor{Updated: t1, ID: "urn:uuid:p3"}
	if peer.Cursor != want {
		t.Fatalf("expected cursor %v, got %v", want, peer.Cursor)
	}
	if _, ok := f.posts.recs["urn:uuid:p1"]; ok {
		t.Fatalf("entry at the cursor was re-merged")
	}
	if _, ok := f.posts.recs["urn:uuid:p2"]; !ok {
		t.Fatalf("p2 missing")
	}
	if _, ok := f.posts.recs["urn:uuid:p3"]; !ok {
		t.Fatalf("p3 missing")
	}
}

func TestSyncSkipsUntrustedPeers(t *testing.T) {
	gw := &fakeGateway{}
	f := newSyncFixture(t, gw)
	ctx := context.Background()
	if err := f.peers.Upsert(ctx, domain.Peer{
		Identifier: "https://eve.example/",
		Endpoint:   "https://eve.example/.well-known/asoc",
		TrustState: domain.TrustRejected,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := f.trust.Prime(ctx); err != nil {
		t.Fatalf("prime failed: %v", err)
	}

	results := f.svc.RunCycle(ctx)
	if len(results) != 0 {
		t.Fatalf("expected no content exchange, got %+v", results)
	}
	if gw.attempts() != 0 {
		t.Fatalf("feed was fetched for an untrusted peer")
	}
	if len(f.posts.recs) != 0 {
		t.Fatalf("posts were merged from an untrusted peer")
	}
}

func TestSyncDropsInvalidEntries(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	t2 := t0.Add(2 * time.Minute)

	broken := asoc.Post{
		ID:      "urn:uuid:broken",
		Authors: []asoc.Person{{Name: "bob"}},
		Updated: t2,
	}

	gw := &fakeGateway{
		fetchPage: func(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
			return feedPage(
				syncPost("urn:uuid:ok1", t0, "fine"),
				broken,
				syncPost("urn:uuid:ok2", t1, "fine too"),
			), nil
		},
	}
	f := newSyncFixture(t, gw)
	f.seedTrustedPeer(t, "https://bob.example/", domain.Cursor{})

	results := f.svc.RunCycle(context.Background())
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Pulled != 2 {
		t.Fatalf("expected 2 pulled, got %d", results[0].Pulled)
	}
	if _, ok := f.posts.recs["urn:uuid:broken"]; ok {
		t.Fatalf("invalid entry was merged")
	}

	// The invalid entry never advances the cursor, even though its
	// timestamp is the greatest on the page.
	peer, _ := f.peers.Get(context.Background(), "https://bob.example/")
	want := domain.Cursor{Updated: t1, ID: "urn:uuid:ok2"}
	if peer.Cursor != want {
		t.Fatalf("expected cursor %v, got %v", want, peer.Cursor)
	}
}

func TestSyncRetriesTransportFailures(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calls := 0

	gw := &fakeGateway{}
	gw.fetchPage = func(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
		calls++
		if calls < 3 {
			return nil, client.TransportError{URL: postsURL, Status: 502}
		}
		return feedPage(syncPost("urn:uuid:p1", t0, "finally")), nil
	}
	f := newSyncFixture(t, gw)
	f.seedTrustedPeer(t, "https://bob.example/", domain.Cursor{})

	results := f.svc.RunCycle(context.Background())
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected retry to recover, got %+v", results)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if _, ok := f.posts.recs["urn:uuid:p1"]; !ok {
		t.Fatalf("post missing after recovery")
	}
}

func TestSyncRetryExhaustionKeepsCursor(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := domain.Cursor{Updated: t0, ID: "urn:uuid:p0"}

	gw := &fakeGateway{
		fetchPage: func(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
			return nil, client.TransportError{URL: postsURL, Status: 503}
		},
	}
	f := newSyncFixture(t, gw)
	f.seedTrustedPeer(t, "https://bob.example/", start)

	results := f.svc.RunCycle(context.Background())
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected a failed peer, got %+v", results)
	}
	if gw.attempts() != 3 {
		t.Fatalf("expected 3 attempts, got %d", gw.attempts())
	}
	peer, _ := f.peers.Get(context.Background(), "https://bob.example/")
	if peer.Cursor != start {
		t.Fatalf("cursor moved on failure: %v", peer.Cursor)
	}
}

func TestSyncNonTransportErrorFailsFast(t *testing.T) {
	gw := &fakeGateway{
		fetchPage: func(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
			return nil, asoc.ParseError{Kind: asoc.ParseMalformed}
		},
	}
	f := newSyncFixture(t, gw)
	f.seedTrustedPeer(t, "https://bob.example/", domain.Cursor{})

	results := f.svc.RunCycle(context.Background())
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected failure, got %+v", results)
	}
	if gw.attempts() != 1 {
		t.Fatalf("parse errors must not be retried, got %d attempts", gw.attempts())
	}
}

func TestSyncPushIdempotent(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var published []string

	gw := &fakeGateway{
		hasPost: func(ctx context.Context, postsURL, id string) (bool, error) {
			return id == "urn:uuid:seen", nil
		},
		publishPost: func(ctx context.Context, postsURL string, post *asoc.Post) error {
			published = append(published, post.ID)
			return nil
		},
	}
	f := newSyncFixture(t, gw)
	f.seedTrustedPeer(t, "https://bob.example/", domain.Cursor{})

	ctx := context.Background()
	seen := syncPost("urn:uuid:seen", t0, "already there")
	fresh := syncPost("urn:uuid:fresh", t0.Add(time.Minute), "new")
	if _, err := f.feed.Compose(ctx, &seen); err != nil {
		t.Fatalf("compose failed: %v", err)
	}
	if _, err := f.feed.Compose(ctx, &fresh); err != nil {
		t.Fatalf("compose failed: %v", err)
	}

	results := f.svc.RunCycle(ctx)
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Pushed != 1 {
		t.Fatalf("expected 1 push, got %d", results[0].Pushed)
	}
	if len(published) != 1 || published[0] != "urn:uuid:fresh" {
		t.Fatalf("unexpected publishes %v", published)
	}

	peer, _ := f.peers.Get(ctx, "https://bob.example/")
	want := domain.Cursor{Updated: fresh.Updated, ID: "urn:uuid:fresh"}
	if peer.PushCursor != want {
		t.Fatalf("expected push cursor %v, got %v", want, peer.PushCursor)
	}

	// Everything is behind the push cursor now; a second cycle is a no-op.
	results = f.svc.RunCycle(ctx)
	if results[0].Pushed != 0 {
		t.Fatalf("expected idempotent second cycle, got %d pushes", results[0].Pushed)
	}
	if len(published) != 1 {
		t.Fatalf("second cycle re-published: %v", published)
	}
}

func TestSyncCancellationFailsWorker(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := domain.Cursor{Updated: t0, ID: "urn:uuid:p0"}

	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{
		fetchPage: func(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
			cancel()
			return nil, client.TransportError{URL: postsURL, Err: context.Canceled}
		},
	}
	f := newSyncFixture(t, gw)
	f.seedTrustedPeer(t, "https://bob.example/", start)

	results := f.svc.RunCycle(ctx)
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected cancelled worker to fail, got %+v", results)
	}
	peer, _ := f.peers.Get(context.Background(), "https://bob.example/")
	if peer.Cursor != start {
		t.Fatalf("cursor moved on cancellation: %v", peer.Cursor)
	}
}

func TestSyncCertificateDiscoveryEstablishesTrust(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	subject := "https://bob.example/"

	cert := asoc.Certificate{
		Subject:   subject,
		Algorithm: asoc.AlgorithmEd25519,
		NotBefore: time.Now().UTC().Add(-time.Hour),
		NotAfter:  time.Now().UTC().Add(24 * time.Hour),
		KeyData:   "Ym9iLWtleQ==",
	}
	gw := &fakeGateway{
		fetchCerts: func(ctx context.Context, certsURL string) (*asoc.Node, error) {
			return asoc.Encode(&asoc.Certificates{Certificates: []asoc.Certificate{cert}}), nil
		},
		fetchPage: func(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
			return feedPage(syncPost("urn:uuid:p1", t0, "first contact")), nil
		},
	}
	f := newSyncFixture(t, gw)

	ctx := context.Background()
	if err := f.trust.Subscribe(ctx, subject, "https://bob.example/.well-known/asoc", "bob"); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	results := f.svc.RunCycle(ctx)
	if f.trust.TrustStateOf(subject) != domain.TrustTrusted {
		t.Fatalf("discovery did not establish trust: %s", f.trust.TrustStateOf(subject))
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected content exchange after discovery, got %+v", results)
	}
	if _, ok := f.posts.recs["urn:uuid:p1"]; !ok {
		t.Fatalf("post missing after first contact")
	}
}

func TestSyncMultiplePeers(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	gw := &fakeGateway{
		fetchService: func(ctx context.Context, endpoint string) (*asoc.Service, error) {
			return &asoc.Service{Links: []asoc.Link{{Rel: asoc.RelPosts, Href: endpoint + "/posts"}}}, nil
		},
	}
	gw.fetchPage = func(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
		return feedPage(syncPost("urn:uuid:"+postsURL, t0, "from "+postsURL)), nil
	}
	f := newSyncFixture(t, gw)
	f.seedTrustedPeer(t, "https://a.example/", domain.Cursor{})
	f.seedTrustedPeer(t, "https://b.example/", domain.Cursor{})
	f.seedTrustedPeer(t, "https://c.example/", domain.Cursor{})

	results := f.svc.RunCycle(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("peer %s failed: %v", r.Peer, r.Err)
		}
	}
	if len(f.posts.recs) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(f.posts.recs))
	}
}
