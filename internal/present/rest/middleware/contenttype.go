package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/internal/present/rest/presenter"
)

// ContentTypeMiddleware enforces the inbound media type policy on request
// bodies. The body is read once here and restored for the handler.
type ContentTypeMiddleware struct {
	lenient bool
}

func NewContentTypeMiddleware(lenient bool) *ContentTypeMiddleware {
	return &ContentTypeMiddleware{
		lenient: lenient,
	}
}

func (m *ContentTypeMiddleware) CheckContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Method != http.MethodPost {
			return next(c)
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return presenter.BadRequestMessage(c, "failed to read request body")
		}
		c.Request().Body = io.NopCloser(bytes.NewReader(body))

		header := c.Request().Header.Get(echo.HeaderContentType)
		if err := asoc.CheckMediaType(header, body, m.lenient); err != nil {
			return presenter.Error(c, err)
		}

		return next(c)
	}
}
