package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Darsh20009/youspeak-sub000/internal/auth"
	"github.com/Darsh20009/youspeak-sub000/internal/blob"
	"github.com/Darsh20009/youspeak-sub000/internal/chat"
	"github.com/Darsh20009/youspeak-sub000/internal/core"
	"github.com/Darsh20009/youspeak-sub000/internal/metrics"
	"github.com/Darsh20009/youspeak-sub000/internal/notify"
	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
	"github.com/Darsh20009/youspeak-sub000/internal/store"
	"github.com/Darsh20009/youspeak-sub000/internal/ws"
)

const identityKey = "identity"

// Options wires the server's collaborators. Store, Blobs and Notifier are
// optional; their routes answer 503 when missing.
type Options struct {
	Coordinator *core.Coordinator
	Verifier    auth.Verifier
	Store       *store.Store
	Blobs       *blob.Store
	Notifier    *notify.Fanout
	WebSocket   ws.Options
}

// Server is the Echo application.
type Server struct {
	echo     *echo.Echo
	coord    *core.Coordinator
	verifier auth.Verifier
	store    *store.Store
	blobs    *blob.Store
	notifier *notify.Fanout
}

// New constructs an Echo app with websocket + REST routes.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(metrics.Middleware())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		},
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				attrs = append(attrs, "err", v.Error)
			}
			slog.Debug("http request", attrs...)
			return nil
		},
	}))

	s := &Server{
		echo:     e,
		coord:    opts.Coordinator,
		verifier: opts.Verifier,
		store:    opts.Store,
		blobs:    opts.Blobs,
		notifier: opts.Notifier,
	}
	s.registerRoutes(opts.WebSocket)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes(wsOpts ws.Options) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	s.echo.GET("/api/state", s.handleState)
	s.echo.GET("/api/rooms/:token", s.handleRoom)

	member := s.requireIdentity(false)
	moderator := s.requireIdentity(true)
	s.echo.GET("/api/rooms/:token/messages", s.handleRoomMessages, member)
	s.echo.GET("/api/rooms/:token/whiteboard/exports", s.handleListExports, moderator)
	s.echo.POST("/api/rooms/:token/whiteboard/exports", s.handleCreateExport, moderator)
	s.echo.GET("/api/exports/:id", s.handleDownloadExport, member)
	s.echo.POST("/api/notifications", s.handleNotify, moderator)

	ws.NewHandler(s.coord, s.verifier, wsOpts).Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

// requireIdentity authenticates the bearer token. With moderatorOnly set,
// participants are refused.
func (s *Server) requireIdentity(moderatorOnly bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := auth.ExtractTokenFromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			identity, err := s.verifier.Verify(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if moderatorOnly && !identity.IsModerator() {
				return echo.NewHTTPError(http.StatusForbidden, "only supervisors can do this")
			}
			c.Set(identityKey, identity)
			return next(c)
		}
	}
}

// allowRoom refuses participants that are not currently in room token.
func (s *Server) allowRoom(c echo.Context, token string) error {
	id, ok := c.Get(identityKey).(protocol.Identity)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing identity")
	}
	if id.IsModerator() || s.coord.Registry().RoomOf(id.ID) == token {
		return nil
	}
	return echo.NewHTTPError(http.StatusForbidden, "join the room first")
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Identities  int    `json:"identities"`
	Rooms       int    `json:"rooms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: s.coord.Registry().Count(),
		Identities:  s.coord.Registry().IdentityCount(),
		Rooms:       s.coord.Rooms().Count(),
	})
}

type stateResponse struct {
	Connections int             `json:"connections"`
	Rooms       []core.RoomInfo `json:"rooms"`
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, stateResponse{
		Connections: s.coord.Registry().Count(),
		Rooms:       s.coord.Rooms().List(),
	})
}

func (s *Server) handleRoom(c echo.Context) error {
	info, ok := s.coord.Rooms().Room(c.Param("token"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	return c.JSON(http.StatusOK, info)
}

type messagesResponse struct {
	RoomToken string         `json:"roomToken"`
	Messages  []chat.Message `json:"messages"`
}

func (s *Server) handleRoomMessages(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "message history is not configured")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	token := c.Param("token")
	if err := s.allowRoom(c, token); err != nil {
		return err
	}
	msgs, err := s.store.RoomMessages(c.Request().Context(), token, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("load messages: %v", err))
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return c.JSON(http.StatusOK, messagesResponse{RoomToken: token, Messages: msgs})
}

type exportResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	RoomToken    string `json:"room_token"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
	CreatedAt    string `json:"created_at"`
}

func newExportResponse(meta store.BlobMetadata) exportResponse {
	return exportResponse{
		ID:           meta.ID,
		Kind:         meta.Kind,
		RoomToken:    meta.RoomToken,
		OriginalName: meta.OriginalName,
		ContentType:  meta.ContentType,
		SizeBytes:    meta.SizeBytes,
		CreatedAt:    meta.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Server) handleCreateExport(c echo.Context) error {
	if s.blobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "export storage is not configured")
	}
	token := c.Param("token")
	snap, ok := s.coord.Rooms().Whiteboard(token)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}

	meta, err := s.blobs.SaveSnapshot(c.Request().Context(), snap)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("save export: %v", err))
	}
	if id, ok := c.Get(identityKey).(protocol.Identity); ok {
		slog.Info("whiteboard exported", "room", token, "blob_id", meta.ID, "by", id.ID, "commands", len(snap.History))
	}
	return c.JSON(http.StatusCreated, newExportResponse(meta))
}

func (s *Server) handleListExports(c echo.Context) error {
	if s.blobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "export storage is not configured")
	}
	metas, err := s.blobs.List(c.Request().Context(), c.Param("token"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("list exports: %v", err))
	}
	out := make([]exportResponse, 0, len(metas))
	for _, m := range metas {
		out = append(out, newExportResponse(m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleDownloadExport(c echo.Context) error {
	if s.blobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "export storage is not configured")
	}

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "export id is required")
	}

	result, err := s.blobs.Open(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "export not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("open export: %v", err))
	}
	defer result.File.Close()
	if err := s.allowRoom(c, result.Metadata.RoomToken); err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, result.Metadata.ContentType)
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(result.Metadata.SizeBytes, 10))
	c.Response().Header().Set(
		echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, safeFilename(result.Metadata.OriginalName)),
	)
	c.Response().WriteHeader(http.StatusOK)
	_, copyErr := io.Copy(c.Response().Writer, result.File)
	return copyErr
}

type notifyRequest struct {
	UserID string          `json:"userId"`
	Kind   string          `json:"kind"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type notifyResponse struct {
	Delivered bool `json:"delivered"`
}

func (s *Server) handleNotify(c echo.Context) error {
	if s.notifier == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notifications are not configured")
	}
	var req notifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed notification")
	}

	delivered, err := s.notifier.Publish(c.Request().Context(), notify.Notification{
		UserID: req.UserID,
		Kind:   req.Kind,
		Data:   req.Data,
	})
	if err != nil {
		if protocol.CodeOf(err) == protocol.CodeValidation {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("publish notification: %v", err))
	}
	return c.JSON(http.StatusAccepted, notifyResponse{Delivered: delivered})
}

func safeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "export.json"
	}
	name = strings.ReplaceAll(name, `"`, "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return name
}
