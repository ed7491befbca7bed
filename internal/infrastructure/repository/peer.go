package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/partim/atomtools/internal/domain"
	"github.com/partim/atomtools/internal/infrastructure/database/models"
)

type PeerRepository struct {
	db *gorm.DB
}

func NewPeerRepository(db *gorm.DB) *PeerRepository {
	return &PeerRepository{db: db}
}

// Upsert registers a peer. An existing row keeps its trust state and cursors;
// only endpoint and name are refreshed.
func (r *PeerRepository) Upsert(ctx context.Context, peer domain.Peer) error {
	model := models.Peer{
		Identifier:        peer.Identifier,
		Endpoint:          peer.Endpoint,
		Name:              peer.Name,
		TrustState:        peer.TrustState.String(),
		Fingerprint:       peer.Fingerprint,
		CursorUpdated:     peer.Cursor.Updated,
		CursorID:          peer.Cursor.ID,
		PushCursorUpdated: peer.PushCursor.Updated,
		PushCursorID:      peer.PushCursor.ID,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{"endpoint", "name"}),
	}).Create(&model).Error
	return errors.Wrap(err, "failed to upsert peer")
}

func (r *PeerRepository) Get(ctx context.Context, identifier string) (domain.Peer, error) {
	var model models.Peer
	err := r.db.WithContext(ctx).First(&model, "identifier = ?", identifier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Peer{}, domain.NotFoundError{Resource: "peer"}
	}
	if err != nil {
		return domain.Peer{}, errors.Wrap(err, "failed to load peer")
	}
	return peerFromModel(model), nil
}

func (r *PeerRepository) List(ctx context.Context) ([]domain.Peer, error) {
	var rows []models.Peer
	err := r.db.WithContext(ctx).Order("identifier asc").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list peers")
	}

	peers := make([]domain.Peer, 0, len(rows))
	for _, row := range rows {
		peers = append(peers, peerFromModel(row))
	}
	return peers, nil
}

func (r *PeerRepository) UpdateTrust(ctx context.Context, identifier string, state domain.TrustState, fingerprint string) error {
	return r.update(ctx, identifier, map[string]any{
		"trust_state": state.String(),
		"fingerprint": fingerprint,
	})
}

func (r *PeerRepository) UpdateCursor(ctx context.Context, identifier string, cur domain.Cursor) error {
	return r.update(ctx, identifier, map[string]any{
		"cursor_updated": cur.Updated,
		"cursor_id":      cur.ID,
	})
}

func (r *PeerRepository) UpdatePushCursor(ctx context.Context, identifier string, cur domain.Cursor) error {
	return r.update(ctx, identifier, map[string]any{
		"push_cursor_updated": cur.Updated,
		"push_cursor_id":      cur.ID,
	})
}

func (r *PeerRepository) update(ctx context.Context, identifier string, values map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.Peer{}).
		Where("identifier = ?", identifier).
		Updates(values)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update peer")
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "peer"}
	}
	return nil
}

func peerFromModel(m models.Peer) domain.Peer {
	return domain.Peer{
		Identifier:  m.Identifier,
		Endpoint:    m.Endpoint,
		Name:        m.Name,
		Fingerprint: m.Fingerprint,
		TrustState:  domain.TrustState(m.TrustState),
		Cursor:      domain.Cursor{Updated: m.CursorUpdated, ID: m.CursorID},
		PushCursor:  domain.Cursor{Updated: m.PushCursorUpdated, ID: m.PushCursorID},
	}
}
