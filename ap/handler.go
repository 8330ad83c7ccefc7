package ap

import (
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"

	"github.com/mypub/mypub/inbox"
	"github.com/mypub/mypub/types"
)

var tracer = otel.Tracer("activitypub")

const maxInboxBody = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) Handler {
	return Handler{service}
}

// Error writes err as {"error": code} with its status.
func Error(c echo.Context, err error) error {
	return c.JSON(types.StatusOf(err), echo.Map{"error": types.CodeOf(err)})
}

func accepts(c echo.Context, mediaTypes ...string) bool {
	accept := strings.ToLower(c.Request().Header.Get("Accept"))
	for _, mediaType := range mediaTypes {
		if strings.Contains(accept, mediaType) {
			return true
		}
	}
	return false
}

func (h Handler) Inbox(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "HandlerAPInbox")
	defer span.End()

	r := c.Request()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		span.RecordError(err)
		return Error(c, types.BadRequest(types.ErrBadRequest, "failed to read body"))
	}

	err = h.service.Inbox(ctx, inbox.Request{
		Method: r.Method,
		URL:    r.URL,
		Host:   r.Host,
		Header: r.Header,
		Body:   body,
	})
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(
			ctx, "inbox rejected request",
			slog.String("request", r.Method+" "+r.URL.String()),
			slog.String("userAgent", r.UserAgent()),
			slog.String("error", err.Error()),
		)
		return Error(c, err)
	}

	return c.NoContent(http.StatusOK)
}

func (h Handler) User(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "User")
	defer span.End()

	if !accepts(c, "application/activity+json", "application/ld+json") {
		return Error(c, types.BadRequest(types.ErrBadRequest, "unsupported accept header"))
	}

	result, err := h.service.Actor(ctx, c.Param("handle"))
	if err != nil {
		span.RecordError(err)
		return Error(c, err)
	}

	c.Response().Header().Set("Content-Type", "application/activity+json; charset=utf-8")
	return c.JSON(http.StatusOK, result)
}

// Collection answers requests for actor collections, which are not served.
func (h Handler) Collection(c echo.Context) error {
	return Error(c, &types.Error{Code: types.ErrNotImplemented, Class: types.ClassNotFound})
}

func (h Handler) WebFinger(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "WebFinger")
	defer span.End()

	if !accepts(c, "application/jrd+json") {
		return Error(c, types.BadRequest(types.ErrBadRequest, "unsupported accept header"))
	}

	result, err := h.service.WebFinger(ctx, c.QueryParam("resource"))
	if err != nil {
		span.RecordError(err)
		return Error(c, err)
	}

	c.Response().Header().Set("Content-Type", "application/jrd+json; charset=utf-8")
	return c.JSON(http.StatusOK, result)
}

func (h Handler) HostMeta(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "HostMeta")
	defer span.End()

	b, err := xml.MarshalIndent(h.service.HostMeta(), "", "  ")
	if err != nil {
		span.RecordError(err)
		return Error(c, types.WrapError(types.ErrUnknown, err, "host-meta"))
	}

	return c.Blob(http.StatusOK, "application/xrd+xml; charset=utf-8", append([]byte(xml.Header), b...))
}

// NodeInfo handles nodeinfo requests
func (h Handler) NodeInfo(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "NodeInfo")
	defer span.End()

	result, err := h.service.NodeInfo(ctx)
	if err != nil {
		span.RecordError(err)
		return Error(c, err)
	}

	c.Response().Header().Set("Content-Type", "application/json; charset=utf-8")
	return c.JSON(http.StatusOK, result)
}

func (h Handler) NodeInfoWellKnown(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "NodeInfoWellKnown")
	defer span.End()

	result, err := h.service.NodeInfoWellKnown(ctx)
	if err != nil {
		span.RecordError(err)
		return Error(c, err)
	}

	c.Response().Header().Set("Content-Type", "application/json; charset=utf-8")
	return c.JSON(http.StatusOK, result)
}

// Register mounts the federation endpoints on e.
func (h Handler) Register(e *echo.Echo, paths types.PathSegments) {
	e.GET("/.well-known/host-meta", h.HostMeta)
	e.GET("/.well-known/webfinger", h.WebFinger)
	e.GET("/.well-known/nodeinfo", h.NodeInfoWellKnown)
	e.GET("/"+paths.NodeInfo, h.NodeInfo)

	e.POST("/"+paths.SharedInbox, h.Inbox)

	users := e.Group("/" + paths.Users)
	users.GET("/:handle", h.User)
	users.POST("/:handle/"+paths.Inbox, h.Inbox)
	users.GET("/:handle/"+paths.Outbox, h.Collection)
	users.GET("/:handle/"+paths.Followers, h.Collection)
	users.GET("/:handle/"+paths.Following, h.Collection)
	users.GET("/:handle/collections/:collection", h.Collection)
}
