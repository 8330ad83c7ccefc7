package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel"

	"github.com/mypub/mypub/follow"
	"github.com/mypub/mypub/types"
)

var tracer = otel.Tracer("api")

type Handler struct {
	service *Service
}

func NewHandler(service *Service) Handler {
	return Handler{
		service,
	}
}

func fail(c echo.Context, err error) error {
	return c.JSON(types.StatusOf(err), echo.Map{"status": "error", "error": types.CodeOf(err)})
}

// CreateUser handles local user provisioning.
func (h Handler) CreateUser(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "CreateUser")
	defer span.End()

	var request CreateUserRequest
	err := c.Bind(&request)
	if err != nil {
		span.RecordError(err)
		return fail(c, types.BadRequest(types.ErrBadRequest, "invalid request body"))
	}

	user, err := h.service.CreateUser(ctx, request)
	if err != nil {
		span.RecordError(err)
		return fail(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"status": "ok", "content": user})
}

func (h Handler) GetUser(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "GetUser")
	defer span.End()

	user, err := h.service.GetUser(ctx, c.Param("handle"))
	if err != nil {
		span.RecordError(err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": user})
}

// ResolvePerson handles lookups of actors by url or handle.
func (h Handler) ResolvePerson(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ResolvePerson")
	defer span.End()

	target := c.QueryParam("target")
	if target == "" {
		return fail(c, types.BadRequest(types.ErrBadRequest, "target is required"))
	}

	user, err := h.service.Resolve(ctx, target)
	if err != nil {
		span.RecordError(err)
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": user})
}

// TargetRequest names the other party of a follow transition.
type TargetRequest struct {
	Target string `json:"target"`
}

type action func(s *Service, ctx context.Context, handle, target string) (follow.Outcome, error)

func (h Handler) transition(name string, fn action) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), name)
		defer span.End()

		var request TargetRequest
		if err := c.Bind(&request); err != nil || request.Target == "" {
			return fail(c, types.BadRequest(types.ErrBadRequest, "target is required"))
		}

		outcome, err := fn(h.service, ctx, c.Param("handle"), request.Target)
		if err != nil {
			span.RecordError(err)
			return fail(c, err)
		}

		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "content": echo.Map{"outcome": outcome.String()}})
	}
}

// Register mounts the management api on g, guarded by a bearer token.
func (h Handler) Register(g *echo.Group, token string) {
	g.Use(middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
		return token != "" && subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
	}))

	g.POST("/users", h.CreateUser)
	g.GET("/users/:handle", h.GetUser)
	g.POST("/users/:handle/follow", h.transition("Follow", (*Service).Follow))
	g.DELETE("/users/:handle/follow", h.transition("UnFollow", (*Service).Unfollow))
	g.POST("/users/:handle/followers/approve", h.transition("Approve", (*Service).Approve))
	g.POST("/users/:handle/followers/deny", h.transition("Deny", (*Service).Deny))
	g.GET("/resolve", h.ResolvePerson)
}
