package rest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/internal/config"
	"github.com/partim/atomtools/internal/domain"
	"github.com/partim/atomtools/internal/present/rest/presenter"
	"github.com/partim/atomtools/internal/service"
	"github.com/partim/atomtools/internal/usecase"
)

type Handler struct {
	conf   config.Config
	feed   *usecase.FeedUsecase
	trust  *usecase.TrustUsecase
	signal *service.SignalService
}

func NewHandler(
	conf config.Config,
	feed *usecase.FeedUsecase,
	trust *usecase.TrustUsecase,
	signal *service.SignalService,
) *Handler {
	return &Handler{
		conf:   conf,
		feed:   feed,
		trust:  trust,
		signal: signal,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/asoc", h.handleServiceDocument)
	e.GET("/api/v1/posts", h.handleGetPosts)
	e.POST("/api/v1/posts", h.handleSubmitPost)
	e.GET("/api/v1/posts/:id", h.handleGetPost)
	e.GET("/api/v1/peers", h.handleGetPeers)
	e.POST("/api/v1/peers", h.handleSubscribePeer)
	e.GET("/api/v1/certificates", h.handleGetCertificates)
	e.POST("/api/v1/certificates", h.handleRecordCertificate)
	e.GET("/api/v1/firehose", h.handleFirehose)
}

func (h *Handler) baseURL() string {
	if h.conf.Server.BaseURL != "" {
		return strings.TrimRight(h.conf.Server.BaseURL, "/")
	}
	return "https://" + h.conf.Server.FQDN
}

func (h *Handler) entryURL(id string) string {
	return h.baseURL() + "/api/v1/posts/" + url.PathEscape(id)
}

// readDocument parses the request body into an element tree. Media type
// enforcement happened in middleware; this only cares about the XML.
func readDocument(c echo.Context) (*asoc.Node, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, asoc.ParseError{Kind: asoc.ParseMalformed, Err: err}
	}
	return asoc.ParseNodeBytes(body)
}

func (h *Handler) handleServiceDocument(c echo.Context) error {
	base := h.baseURL()
	svc := &asoc.Service{
		Links: []asoc.Link{
			{Href: base + "/api/v1/posts", Rel: asoc.RelPosts, Type: asoc.MediaType},
			{Href: base + "/api/v1/peers", Rel: asoc.RelPeers, Type: asoc.MediaType},
			{Href: base + "/api/v1/certificates", Rel: asoc.RelCertificates, Type: asoc.MediaType},
		},
	}
	return presenter.ServiceDocument(c, svc)
}

func (h *Handler) handleGetPosts(c echo.Context) error {
	ctx := c.Request().Context()

	var cur domain.Cursor
	sinceStr := c.QueryParam("since")
	if sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return presenter.BadRequestMessage(c, "invalid since parameter")
		}
		cur.Updated = parsed
	}
	cur.ID = c.QueryParam("since-id")

	limit := h.conf.Sync.PageLimit
	limitStr := c.QueryParam("limit")
	if limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return presenter.BadRequestMessage(c, "invalid limit parameter")
		}
		if parsed < limit {
			limit = parsed
		}
	}

	posts, err := h.feed.Page(ctx, cur, limit)
	if err != nil {
		return presenter.Error(c, err)
	}

	base := h.baseURL()
	feed := &asoc.Feed{
		ID:      base + "/api/v1/posts",
		Title:   &asoc.Text{Type: asoc.TextPlain, Body: h.conf.Server.FQDN},
		Updated: time.Now().UTC(),
		Links: []asoc.Link{
			{Href: base + "/api/v1/posts", Rel: "self", Type: asoc.MediaType},
		},
	}
	for _, p := range posts {
		feed.Posts = append(feed.Posts, *p)
	}
	if n := len(posts); n > 0 {
		feed.Updated = posts[n-1].Updated
	}
	return presenter.Document(c, http.StatusOK, feed)
}

func (h *Handler) handleSubmitPost(c echo.Context) error {
	ctx := c.Request().Context()

	node, err := readDocument(c)
	if err != nil {
		return presenter.Error(c, err)
	}
	doc, err := asoc.Decode(node)
	if err != nil {
		return presenter.Error(c, err)
	}
	post, ok := doc.(*asoc.Post)
	if !ok {
		return presenter.BadRequestMessage(c, "expected an asoc:post document")
	}

	// A post without an id is a draft: the node mints identity and
	// timestamps before the document is validated and stored.
	if post.ID == "" {
		created, err := h.feed.Compose(ctx, post)
		if err != nil {
			return presenter.Error(c, err)
		}
		c.Response().Header().Set(echo.HeaderLocation, h.entryURL(created.ID))
		return presenter.Document(c, http.StatusCreated, created)
	}

	if err := asoc.Validate(node, asoc.Context{}); err != nil {
		return presenter.Error(c, err)
	}
	outcome, err := h.feed.Merge(ctx, domain.OriginLocal, []*asoc.Post{post})
	if err != nil {
		return presenter.Error(c, err)
	}
	stored, err := h.feed.Get(ctx, post.ID)
	if err != nil {
		return presenter.Error(c, err)
	}
	if outcome.Accepted > 0 {
		c.Response().Header().Set(echo.HeaderLocation, h.entryURL(post.ID))
		return presenter.Document(c, http.StatusCreated, stored)
	}
	return presenter.Document(c, http.StatusOK, stored)
}

func (h *Handler) handleGetPost(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := url.PathUnescape(c.Param("id"))
	if err != nil || id == "" {
		return presenter.BadRequestMessage(c, "invalid id")
	}

	post, err := h.feed.Get(ctx, id)
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Document(c, http.StatusOK, post)
}

func (h *Handler) handleGetPeers(c echo.Context) error {
	ctx := c.Request().Context()

	peers, err := h.trust.Peers(ctx)
	if err != nil {
		return presenter.Error(c, err)
	}

	doc := &asoc.Peers{}
	for _, p := range peers {
		doc.Peers = append(doc.Peers, asoc.Peer{
			ID:   p.Identifier,
			URI:  p.Endpoint,
			Name: p.Name,
		})
	}
	return presenter.Document(c, http.StatusOK, doc)
}

func (h *Handler) handleSubscribePeer(c echo.Context) error {
	ctx := c.Request().Context()

	node, err := readDocument(c)
	if err != nil {
		return presenter.Error(c, err)
	}
	doc, err := asoc.Decode(node)
	if err != nil {
		return presenter.Error(c, err)
	}
	peer, ok := doc.(*asoc.Peer)
	if !ok {
		return presenter.BadRequestMessage(c, "expected an asoc:peer document")
	}
	if err := asoc.Validate(node, asoc.Context{}); err != nil {
		return presenter.Error(c, err)
	}

	if err := h.trust.Subscribe(ctx, peer.ID, peer.URI, peer.Name); err != nil {
		return presenter.Error(c, err)
	}
	return presenter.Document(c, http.StatusCreated, peer)
}

func (h *Handler) handleGetCertificates(c echo.Context) error {
	ctx := c.Request().Context()

	certs, err := h.trust.Certificates(ctx)
	if err != nil {
		return presenter.Error(c, err)
	}

	doc := &asoc.Certificates{}
	for _, cert := range certs {
		decoded, err := asoc.DecodeBytes([]byte(cert.Raw))
		if err != nil {
			return presenter.Error(c, errors.Wrap(err, "failed to decode stored certificate"))
		}
		if cd, ok := decoded.(*asoc.Certificate); ok {
			doc.Certificates = append(doc.Certificates, *cd)
		}
	}
	return presenter.Document(c, http.StatusOK, doc)
}

// trustStatus is the JSON response for certificate submissions. State is the
// peer's trust state after the operation, whether it was accepted or refused.
type trustStatus struct {
	Peer  string `json:"peer"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) handleRecordCertificate(c echo.Context) error {
	ctx := c.Request().Context()

	node, err := readDocument(c)
	if err != nil {
		return presenter.Error(c, err)
	}
	doc, err := asoc.Decode(node)
	if err != nil {
		return presenter.Error(c, err)
	}
	cert, ok := doc.(*asoc.Certificate)
	if !ok {
		return presenter.BadRequestMessage(c, "expected an asoc:certificate document")
	}
	if err := asoc.Validate(node, asoc.Context{}); err != nil {
		return presenter.Error(c, err)
	}

	state, err := h.trust.RecordCertificate(ctx, cert)
	var terr domain.TrustError
	if errors.As(err, &terr) {
		return presenter.Forbidden(c, trustStatus{
			Peer:  terr.Peer,
			State: state.String(),
			Error: terr.Error(),
		})
	}
	if err != nil {
		return presenter.Error(c, err)
	}
	return presenter.OK(c, trustStatus{Peer: cert.Subject, State: state.String()})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) handleFirehose(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("failed to upgrade websocket",
			slog.String("module", "socket"),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	output := make(chan domain.PostEvent)
	go h.signal.Realtime(ctx, output)

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) &&
					(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
					return
				}
				slog.DebugContext(ctx, "websocket closed",
					slog.String("module", "socket"),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case event := <-output:
			if err := ws.WriteJSON(event); err != nil {
				slog.ErrorContext(ctx, "failed to write post event",
					slog.String("module", "socket"),
					slog.String("error", err.Error()),
				)
				return nil
			}
		}
	}
}
