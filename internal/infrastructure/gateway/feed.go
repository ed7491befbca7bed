package gateway

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/client"
	"github.com/partim/atomtools/internal/domain"
	"github.com/partim/atomtools/internal/service"
)

// FeedGateway adapts the HTTP client to the sync service's view of a remote
// peer: service discovery, feed paging and entry-level push.
type FeedGateway struct {
	client *client.Client
}

func NewFeedGateway(cl *client.Client) *FeedGateway {
	return &FeedGateway{client: cl}
}

func (g *FeedGateway) FetchService(ctx context.Context, endpoint string) (*asoc.Service, error) {
	return g.client.FetchService(ctx, endpoint)
}

func (g *FeedGateway) FetchPage(ctx context.Context, postsURL string, cur domain.Cursor, limit int) (*asoc.Node, error) {
	return g.client.GetFeedPage(ctx, postsURL, cur.Updated, cur.ID, limit)
}

func (g *FeedGateway) FetchCertificates(ctx context.Context, certsURL string) (*asoc.Node, error) {
	return g.client.GetNode(ctx, certsURL)
}

// HasPost probes the peer for an entry by id. A 404 is a definite no; any
// other failure stays an error so the caller does not publish blindly.
func (g *FeedGateway) HasPost(ctx context.Context, postsURL, id string) (bool, error) {
	_, err := g.client.GetEntry(ctx, postsURL, id)
	if err == nil {
		return true, nil
	}
	var te client.TransportError
	if errors.As(err, &te) && te.Status == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (g *FeedGateway) PublishPost(ctx context.Context, postsURL string, post *asoc.Post) error {
	return g.client.PostDocument(ctx, postsURL, post)
}

var _ service.PeerGateway = (*FeedGateway)(nil)
