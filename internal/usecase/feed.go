package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/internal/domain"
)

// mergeStripes is the number of mutexes merges are striped over. Merges for
// the same post id always take the same stripe, so concurrent peer workers
// never interleave on one entry.
const mergeStripes = 64

// MergeOutcome summarizes a merged batch. Cursor is the maximum (updated,
// id) among the processed entries and stays zero when nothing was processed.
type MergeOutcome struct {
	Processed int
	Accepted  int
	Cursor    domain.Cursor
}

type FeedUsecase struct {
	repo   PostRepository
	events EventPublisher
	locks  [mergeStripes]sync.Mutex
}

func NewFeedUsecase(repo PostRepository, events EventPublisher) *FeedUsecase {
	return &FeedUsecase{
		repo:   repo,
		events: events,
	}
}

func (uc *FeedUsecase) lockFor(id string) *sync.Mutex {
	return &uc.locks[xxh3.HashString(id)&(mergeStripes-1)]
}

// Merge applies a batch of posts from origin in the order given. Each entry
// either replaces an older stored version, loses to a same-or-newer stored
// version, or is inserted fresh; all three count as processed. On a storage
// failure the outcome covers the prefix merged so far, so callers may still
// advance their cursor over it.
func (uc *FeedUsecase) Merge(ctx context.Context, origin string, posts []*asoc.Post) (MergeOutcome, error) {
	var out MergeOutcome
	for _, p := range posts {
		accepted, err := uc.mergeOne(ctx, origin, p)
		if err != nil {
			return out, err
		}
		out.Processed++
		if accepted {
			out.Accepted++
		}
		c := domain.Cursor{Updated: p.Updated, ID: p.ID}
		if out.Cursor.Less(c) {
			out.Cursor = c
		}
	}
	return out, nil
}

func (uc *FeedUsecase) mergeOne(ctx context.Context, origin string, p *asoc.Post) (bool, error) {
	mu := uc.lockFor(p.ID)
	mu.Lock()
	defer mu.Unlock()

	rec := recordFromPost(origin, p)
	accepted, err := uc.repo.Save(ctx, rec)
	if err != nil {
		return false, errors.Wrap(err, "failed to store post")
	}
	if accepted && uc.events != nil {
		event := domain.PostEvent{
			ID:       rec.ID,
			Updated:  rec.Updated,
			Origin:   rec.Origin,
			Document: rec.Document,
		}
		if err := uc.events.Publish(ctx, event); err != nil {
			slog.Warn("failed to publish post event",
				slog.String("module", "feed"),
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return accepted, nil
}

// Compose stores a locally authored post, minting an identity and timestamps
// for whatever the author left blank, and validating the completed document
// before it enters the feed.
func (uc *FeedUsecase) Compose(ctx context.Context, p *asoc.Post) (*asoc.Post, error) {
	if p.ID == "" {
		p.ID = "urn:uuid:" + uuid.NewString()
	}
	if p.Updated.IsZero() {
		p.Updated = time.Now().UTC()
	}
	if p.Published.IsZero() {
		p.Published = p.Updated
	}
	if err := asoc.Validate(asoc.Encode(p), asoc.Context{}); err != nil {
		return nil, err
	}
	if _, err := uc.mergeOne(ctx, domain.OriginLocal, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get loads one post by id and decodes its canonical document.
func (uc *FeedUsecase) Get(ctx context.Context, id string) (*asoc.Post, error) {
	rec, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeRecord(rec)
}

// Page returns up to limit posts strictly after cur, ascending in
// (updated, id) order.
func (uc *FeedUsecase) Page(ctx context.Context, cur domain.Cursor, limit int) ([]*asoc.Post, error) {
	recs, err := uc.repo.ListSince(ctx, cur, limit)
	if err != nil {
		return nil, err
	}
	return decodeRecords(recs)
}

// LocalSince returns locally authored posts strictly after cur, for pushing
// to peers.
func (uc *FeedUsecase) LocalSince(ctx context.Context, cur domain.Cursor, limit int) ([]*asoc.Post, error) {
	recs, err := uc.repo.ListOriginSince(ctx, domain.OriginLocal, cur, limit)
	if err != nil {
		return nil, err
	}
	return decodeRecords(recs)
}

func recordFromPost(origin string, p *asoc.Post) domain.PostRecord {
	rec := domain.PostRecord{
		ID:        p.ID,
		Updated:   p.Updated,
		Published: p.Published,
		Origin:    origin,
		Document:  string(asoc.EncodeBytes(p)),
	}
	if len(p.Authors) > 0 {
		rec.Author = p.Authors[0].Name
	}
	for _, c := range p.Categories {
		rec.Categories = append(rec.Categories, c.Term)
	}
	return rec
}

func decodeRecord(rec domain.PostRecord) (*asoc.Post, error) {
	doc, err := asoc.DecodeBytes([]byte(rec.Document))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode stored post")
	}
	post, ok := doc.(*asoc.Post)
	if !ok {
		return nil, errors.Errorf("stored document %s is not a post", rec.ID)
	}
	return post, nil
}

func decodeRecords(recs []domain.PostRecord) ([]*asoc.Post, error) {
	posts := make([]*asoc.Post, 0, len(recs))
	for _, rec := range recs {
		post, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}
