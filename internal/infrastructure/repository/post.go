package repository

import (
	"context"
	"encoding/json"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/partim/atomtools/internal/domain"
	"github.com/partim/atomtools/internal/infrastructure/database/models"
)

// postCacheTTL is the memcache expiry for single-post lookups, in seconds.
const postCacheTTL = 300

type PostRepository struct {
	db *gorm.DB
	mc *memcache.Client
}

// NewPostRepository wires the posts table and an optional memcache lookaside
// for single-post reads. mc may be nil.
func NewPostRepository(db *gorm.DB, mc *memcache.Client) *PostRepository {
	return &PostRepository{db: db, mc: mc}
}

func postCacheKey(id string) string {
	return "post:" + id
}

// Save inserts the record or replaces a strictly older stored version. The
// decision is made by the database in one statement, so concurrent writers
// for the same id cannot interleave: the row with the greatest updated wins
// and a tie keeps what is already stored.
func (r *PostRepository) Save(ctx context.Context, rec domain.PostRecord) (bool, error) {
	model := models.Post{
		ID:            rec.ID,
		Updated:       rec.Updated,
		Published:     rec.Published,
		Author:        rec.Author,
		CategoryTerms: pq.StringArray(rec.Categories),
		Origin:        rec.Origin,
		Document:      rec.Document,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated", "published", "author", "category_terms", "origin", "document",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Gt{
				Column: clause.Column{Table: "excluded", Name: "updated"},
				Value:  clause.Column{Table: "posts", Name: "updated"},
			},
		}},
	}).Create(&model)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to upsert post")
	}

	accepted := result.RowsAffected > 0
	if accepted && r.mc != nil {
		r.mc.Delete(postCacheKey(rec.ID))
	}
	return accepted, nil
}

func (r *PostRepository) Get(ctx context.Context, id string) (domain.PostRecord, error) {
	if r.mc != nil {
		if item, err := r.mc.Get(postCacheKey(id)); err == nil {
			var rec domain.PostRecord
			if err := json.Unmarshal(item.Value, &rec); err == nil {
				return rec, nil
			}
		}
	}

	var model models.Post
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PostRecord{}, domain.NotFoundError{Resource: "post"}
	}
	if err != nil {
		return domain.PostRecord{}, errors.Wrap(err, "failed to load post")
	}

	rec := postFromModel(model)
	if r.mc != nil {
		if body, err := json.Marshal(rec); err == nil {
			r.mc.Set(&memcache.Item{
				Key:        postCacheKey(id),
				Value:      body,
				Expiration: postCacheTTL,
			})
		}
	}
	return rec, nil
}

func (r *PostRepository) ListSince(ctx context.Context, cur domain.Cursor, limit int) ([]domain.PostRecord, error) {
	return r.list(r.db.WithContext(ctx), cur, limit)
}

func (r *PostRepository) ListOriginSince(ctx context.Context, origin string, cur domain.Cursor, limit int) ([]domain.PostRecord, error) {
	tx := r.db.WithContext(ctx).Where("origin = ?", origin)
	return r.list(tx, cur, limit)
}

func (r *PostRepository) list(tx *gorm.DB, cur domain.Cursor, limit int) ([]domain.PostRecord, error) {
	var rows []models.Post
	err := tx.
		Where("updated > ? OR (updated = ? AND id > ?)", cur.Updated, cur.Updated, cur.ID).
		Order("updated asc, id asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list posts")
	}

	recs := make([]domain.PostRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, postFromModel(row))
	}
	return recs, nil
}

func postFromModel(m models.Post) domain.PostRecord {
	return domain.PostRecord{
		ID:         m.ID,
		Updated:    m.Updated,
		Published:  m.Published,
		Author:     m.Author,
		Categories: []string(m.CategoryTerms),
		Origin:     m.Origin,
		Document:   m.Document,
	}
}
