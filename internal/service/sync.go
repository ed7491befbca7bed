package service

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/client"
	"github.com/partim/atomtools/internal/config"
	"github.com/partim/atomtools/internal/domain"
	"github.com/partim/atomtools/internal/usecase"
)

var tracer = otel.Tracer("sync")

// PeerGateway is the remote side of a sync exchange, implemented over the
// HTTP client by the gateway layer.
type PeerGateway interface {
	FetchService(ctx context.Context, endpoint string) (*asoc.Service, error)
	FetchPage(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error)
	FetchCertificates(ctx context.Context, certsURL string) (*asoc.Node, error)
	HasPost(ctx context.Context, postsURL, id string) (bool, error)
	PublishPost(ctx context.Context, postsURL string, post *asoc.Post) error
}

// PeerResult is the outcome of one peer's exchange within a cycle. Pulled
// counts entries this node accepted, Pushed counts entries delivered to the
// peer. A failed peer keeps its cursors and is retried next cycle.
type PeerResult struct {
	Peer   string
	Pulled int
	Pushed int
	Err    error
}

type SyncService struct {
	conf    config.Sync
	trust   *usecase.TrustUsecase
	feed    *usecase.FeedUsecase
	peers   usecase.PeerRepository
	gateway PeerGateway

	backoffBase time.Duration
	backoffMax  time.Duration
}

func NewSyncService(
	conf config.Sync,
	trust *usecase.TrustUsecase,
	feed *usecase.FeedUsecase,
	peers usecase.PeerRepository,
	gateway PeerGateway,
) *SyncService {
	return &SyncService{
		conf:        conf,
		trust:       trust,
		feed:        feed,
		peers:       peers,
		gateway:     gateway,
		backoffBase: 500 * time.Millisecond,
		backoffMax:  30 * time.Second,
	}
}

// Run drives cycles on the configured interval until ctx is done.
func (s *SyncService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.conf.Interval())
	defer ticker.Stop()
	for {
		s.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle exchanges posts with every trusted peer once, fanning out over a
// bounded pool with at most one worker per peer. The cycle deadline cancels
// stragglers; a cancelled worker counts as failed and leaves its cursors
// alone. Peers that are not yet trusted get a certificate discovery pass
// instead of a content exchange.
func (s *SyncService) RunCycle(ctx context.Context) []PeerResult {
	ctx, cancel := context.WithTimeout(ctx, s.conf.Interval())
	defer cancel()
	ctx, span := tracer.Start(ctx, "Sync.Service.Cycle")
	defer span.End()

	sem := make(chan struct{}, s.conf.MaxConcurrentPeers)

	all, err := s.trust.Peers(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to list peers",
			slog.String("module", "sync"),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var discovery sync.WaitGroup
	for _, peer := range all {
		if peer.Endpoint == "" || s.trust.TrustStateOf(peer.Identifier) == domain.TrustTrusted {
			continue
		}
		discovery.Add(1)
		go func(peer domain.Peer) {
			defer discovery.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			s.discoverCertificates(ctx, peer)
		}(peer)
	}
	discovery.Wait()

	trusted, err := s.trust.TrustedPeers(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to snapshot trusted peers",
			slog.String("module", "sync"),
			slog.String("error", err.Error()),
		)
		return nil
	}

	results := make([]PeerResult, len(trusted))
	var wg sync.WaitGroup
	for i, peer := range trusted {
		wg.Add(1)
		go func(i int, peer domain.Peer) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = PeerResult{Peer: peer.Identifier, Err: ctx.Err()}
				return
			}
			results[i] = s.syncPeer(ctx, peer)
		}(i, peer)
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			slog.Warn("peer sync failed",
				slog.String("module", "sync"),
				slog.String("peer", r.Peer),
				slog.String("error", r.Err.Error()),
			)
		}
	}
	return results
}

// discoverCertificates pulls a non-trusted peer's certificates collection
// and feeds the peer's own certificates through the trust store, so trust
// can establish itself without operator involvement where an anchor already
// vouches for the peer. Failures are logged and retried next cycle.
func (s *SyncService) discoverCertificates(ctx context.Context, peer domain.Peer) {
	ctx, span := tracer.Start(ctx, "Sync.Service.DiscoverCertificates")
	defer span.End()

	svc, err := s.fetchService(ctx, peer)
	if err != nil {
		span.RecordError(err)
		slog.Warn("certificate discovery failed",
			slog.String("module", "sync"),
			slog.String("peer", peer.Identifier),
			slog.String("error", err.Error()),
		)
		return
	}
	certsURL := svc.Collection(asoc.RelCertificates)
	if certsURL == "" {
		return
	}

	var node *asoc.Node
	err = s.withRetry(ctx, func() error {
		var err error
		node, err = s.gateway.FetchCertificates(ctx, certsURL)
		return err
	})
	if err != nil {
		span.RecordError(err)
		slog.Warn("certificate discovery failed",
			slog.String("module", "sync"),
			slog.String("peer", peer.Identifier),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := asoc.Validate(node, asoc.Context{}); err != nil {
		slog.Warn("dropping invalid certificates document",
			slog.String("module", "sync"),
			slog.String("peer", peer.Identifier),
			slog.String("error", err.Error()),
		)
		return
	}
	doc, err := asoc.Decode(node)
	if err != nil {
		return
	}
	certs, ok := doc.(*asoc.Certificates)
	if !ok {
		return
	}
	for i := range certs.Certificates {
		cert := &certs.Certificates[i]
		// Only the peer's own certificates count; a collection may also
		// carry certificates the peer holds for its peers.
		if cert.Subject != peer.Identifier {
			continue
		}
		if _, err := s.trust.RecordCertificate(ctx, cert); err != nil && !errors.Is(err, domain.ErrTrust) {
			slog.Warn("failed to record discovered certificate",
				slog.String("module", "sync"),
				slog.String("peer", peer.Identifier),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *SyncService) syncPeer(ctx context.Context, peer domain.Peer) PeerResult {
	ctx, span := tracer.Start(ctx, "Sync.Service.SyncPeer")
	defer span.End()

	result := PeerResult{Peer: peer.Identifier}

	// Trust is re-resolved on use; the peer may have been revoked since the
	// cycle snapshot was taken.
	if s.trust.TrustStateOf(peer.Identifier) != domain.TrustTrusted {
		return result
	}

	svc, err := s.fetchService(ctx, peer)
	if err != nil {
		span.RecordError(err)
		result.Err = err
		return result
	}
	postsURL := svc.Collection(asoc.RelPosts)
	if postsURL == "" {
		result.Err = errors.Errorf("peer %s advertises no posts collection", peer.Identifier)
		return result
	}

	result.Pulled, err = s.pull(ctx, &peer, postsURL)
	if err != nil {
		span.RecordError(err)
		result.Err = err
		return result
	}

	result.Pushed, err = s.push(ctx, &peer, postsURL)
	if err != nil {
		span.RecordError(err)
		result.Err = err
	}
	return result
}

// pull pages through the peer's feed from the stored cursor. The cursor
// advances to the greatest (updated, id) among merged entries, covering the
// merged prefix even when a batch fails midway, and never on failure.
func (s *SyncService) pull(ctx context.Context, peer *domain.Peer, postsURL string) (int, error) {
	total := 0
	for {
		var node *asoc.Node
		err := s.withRetry(ctx, func() error {
			var err error
			node, err = s.gateway.FetchPage(ctx, postsURL, peer.Cursor, s.conf.PageLimit)
			return err
		})
		if err != nil {
			return total, err
		}

		entries, batch := s.siftEntries(peer.Identifier, node, peer.Cursor)
		outcome, mergeErr := s.feed.Merge(ctx, peer.Identifier, batch)
		total += outcome.Accepted
		if outcome.Processed > 0 {
			cursor := peer.Cursor
			if cursor.Less(outcome.Cursor) {
				cursor = outcome.Cursor
			}
			if err := s.peers.UpdateCursor(ctx, peer.Identifier, cursor); err != nil {
				return total, errors.Wrap(err, "failed to advance cursor")
			}
			peer.Cursor = cursor
		}
		if mergeErr != nil {
			return total, mergeErr
		}
		if entries < s.conf.PageLimit || outcome.Processed == 0 {
			return total, nil
		}
	}
}

// siftEntries validates, decodes and cursor-filters the asoc:post entries of
// a fetched feed page, returning the raw entry count and the surviving batch
// sorted ascending in (updated, id). Invalid entries are dropped and logged;
// they never advance the cursor.
func (s *SyncService) siftEntries(peerID string, node *asoc.Node, cur domain.Cursor) (int, []*asoc.Post) {
	inherited := false
	authorName := asoc.Name{Space: asoc.NamespaceAtom, Local: "author"}
	postName := asoc.Name{Space: asoc.NamespaceAsoc, Local: "post"}
	for _, el := range node.Elements() {
		if el.Name == authorName {
			inherited = true
			break
		}
	}
	entryCtx := asoc.Context{InheritedAuthorPresent: inherited}

	count := 0
	var batch []*asoc.Post
	for _, el := range node.Elements() {
		if el.Name != postName {
			continue
		}
		count++
		if err := asoc.Validate(el, entryCtx); err != nil {
			slog.Warn("dropping invalid entry",
				slog.String("module", "sync"),
				slog.String("peer", peerID),
				slog.String("error", err.Error()),
			)
			continue
		}
		doc, err := asoc.Decode(el)
		if err != nil {
			slog.Warn("dropping undecodable entry",
				slog.String("module", "sync"),
				slog.String("peer", peerID),
				slog.String("error", err.Error()),
			)
			continue
		}
		post, ok := doc.(*asoc.Post)
		if !ok {
			continue
		}
		if !cur.Less(domain.Cursor{Updated: post.Updated, ID: post.ID}) {
			continue
		}
		batch = append(batch, post)
	}
	sort.Slice(batch, func(i, j int) bool {
		a := domain.Cursor{Updated: batch[i].Updated, ID: batch[i].ID}
		b := domain.Cursor{Updated: batch[j].Updated, ID: batch[j].ID}
		return a.Less(b)
	})
	return count, batch
}

// push delivers locally authored posts the peer has not seen. Idempotence
// is by post id: an entry the peer already has is skipped, and the push
// cursor advances past it either way.
func (s *SyncService) push(ctx context.Context, peer *domain.Peer, postsURL string) (int, error) {
	total := 0
	for {
		posts, err := s.feed.LocalSince(ctx, peer.PushCursor, s.conf.PageLimit)
		if err != nil {
			return total, err
		}
		if len(posts) == 0 {
			return total, nil
		}
		for _, post := range posts {
			var exists bool
			err := s.withRetry(ctx, func() error {
				var err error
				exists, err = s.gateway.HasPost(ctx, postsURL, post.ID)
				return err
			})
			if err != nil {
				return total, err
			}
			if !exists {
				err := s.withRetry(ctx, func() error {
					return s.gateway.PublishPost(ctx, postsURL, post)
				})
				if err != nil {
					return total, err
				}
				total++
			}
			cursor := domain.Cursor{Updated: post.Updated, ID: post.ID}
			if err := s.peers.UpdatePushCursor(ctx, peer.Identifier, cursor); err != nil {
				return total, errors.Wrap(err, "failed to advance push cursor")
			}
			peer.PushCursor = cursor
		}
		if len(posts) < s.conf.PageLimit {
			return total, nil
		}
	}
}

func (s *SyncService) fetchService(ctx context.Context, peer domain.Peer) (*asoc.Service, error) {
	if peer.Endpoint == "" {
		return nil, errors.Errorf("peer %s has no endpoint", peer.Identifier)
	}
	var svc *asoc.Service
	err := s.withRetry(ctx, func() error {
		var err error
		svc, err = s.gateway.FetchService(ctx, peer.Endpoint)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch service document")
	}
	return svc, nil
}

// withRetry retries transport failures with doubling backoff and jitter,
// bounded by the configured attempt budget. Anything that is not a transport
// error fails immediately.
func (s *SyncService) withRetry(ctx context.Context, fn func() error) error {
	delay := s.backoffBase
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, client.ErrTransport) {
			return err
		}
		if attempt >= s.conf.MaxRetryAttempts {
			return err
		}
		sleep := delay/2 + time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
		if delay > s.backoffMax {
			delay = s.backoffMax
		}
	}
}
