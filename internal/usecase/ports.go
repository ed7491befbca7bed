package usecase

import (
	"context"

	"github.com/partim/atomtools/internal/domain"
)

// PostRepository defines storage operations for the post feed. Save applies
// last-writer-wins by updated and reports whether the given version was
// stored; list operations return records ascending in (updated, id) order,
// strictly after the cursor.
type PostRepository interface {
	Save(ctx context.Context, rec domain.PostRecord) (bool, error)
	Get(ctx context.Context, id string) (domain.PostRecord, error)
	ListSince(ctx context.Context, cur domain.Cursor, limit int) ([]domain.PostRecord, error)
	ListOriginSince(ctx context.Context, origin string, cur domain.Cursor, limit int) ([]domain.PostRecord, error)
}

// PeerRepository defines persistence/lookup for peers and their cursors.
// Upsert never touches trust state or cursors on conflict.
type PeerRepository interface {
	Upsert(ctx context.Context, peer domain.Peer) error
	Get(ctx context.Context, identifier string) (domain.Peer, error)
	List(ctx context.Context) ([]domain.Peer, error)
	UpdateTrust(ctx context.Context, identifier string, state domain.TrustState, fingerprint string) error
	UpdateCursor(ctx context.Context, identifier string, cur domain.Cursor) error
	UpdatePushCursor(ctx context.Context, identifier string, cur domain.Cursor) error
}

// CertificateRepository defines persistence/lookup for peer certificates,
// keyed by key fingerprint.
type CertificateRepository interface {
	Save(ctx context.Context, cert domain.Certificate) error
	Get(ctx context.Context, fingerprint string) (domain.Certificate, error)
	List(ctx context.Context) ([]domain.Certificate, error)
}

// SignatureVerifier checks a certificate against the configured trust
// anchors.
type SignatureVerifier interface {
	Verify(ctx context.Context, cert domain.Certificate) domain.Verdict
}

// EventPublisher broadcasts accepted posts to realtime subscribers. Delivery
// is best-effort; merge durability never depends on it.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.PostEvent) error
}
