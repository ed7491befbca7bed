package presenter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/internal/domain"
)

type errorResponse struct {
	Error string            `json:"error"`
	Rules []validationIssue `json:"rules,omitempty"`
}

type validationIssue struct {
	Rule   string `json:"rule"`
	Path   string `json:"path"`
	Detail string `json:"detail"`
}

// Document writes an Asoc document under the profile media type.
func Document(c echo.Context, status int, doc asoc.Document) error {
	return c.Blob(status, asoc.MediaType, asoc.EncodeBytes(doc))
}

// ServiceDocument writes the discovery document under the AtomPub service
// media type.
func ServiceDocument(c echo.Context, svc *asoc.Service) error {
	return c.Blob(http.StatusOK, asoc.MediaTypeService, asoc.EncodeBytes(svc))
}

// OK wraps a successful JSON response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func BadRequestMessage(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// Forbidden writes a refusal payload. Callers use it when the body must
// carry more than the error string, such as the peer's resulting state.
func Forbidden(c echo.Context, payload any) error {
	return c.JSON(http.StatusForbidden, payload)
}

// Error maps a failure onto its status: validation failures are 400 with
// the broken rules listed, unparseable or unrecognized documents 400,
// media type mismatches 415, trust refusals 403 and missing resources 404.
// Anything else is a 500 and gets logged.
func Error(c echo.Context, err error) error {
	var verrs asoc.ValidationErrors
	if errors.As(err, &verrs) {
		issues := make([]validationIssue, 0, len(verrs))
		for _, v := range verrs {
			issues = append(issues, validationIssue{Rule: v.Rule, Path: v.Path, Detail: v.Detail})
		}
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "document is not valid", Rules: issues})
	}
	if errors.Is(err, asoc.ErrParse) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if errors.Is(err, asoc.ErrContentType) {
		return c.JSON(http.StatusUnsupportedMediaType, errorResponse{Error: err.Error()})
	}
	if errors.Is(err, domain.ErrTrust) {
		return c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
	}
	if errors.Is(err, domain.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	slog.Error("request failed",
		slog.String("module", "rest"),
		slog.String("error", err.Error()),
	)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
