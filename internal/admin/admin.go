// Package admin exposes a small HTTP API for operators: health, metrics,
// and a read-only view of live rooms. It runs beside the chat listener and
// is optionally guarded by bearer tokens.
package admin

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strings"

	"chatserver/internal/auth"
	"chatserver/internal/client"
	"chatserver/internal/metrics"
	"chatserver/internal/room"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the admin HTTP server.
type Server struct {
	echo     *echo.Echo
	rooms    *room.Registry
	sessions *client.Registry
	metrics  *metrics.Metrics
	jwt      *auth.JWTService // nil leaves the API open
}

// New builds the admin server. jwtService may be nil to disable auth.
func New(rooms *room.Registry, sessions *client.Registry, m *metrics.Metrics, jwtService *auth.JWTService) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{
		echo:     e,
		rooms:    rooms,
		sessions: sessions,
		metrics:  m,
		jwt:      jwtService,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealth)

	guarded := s.echo.Group("")
	if s.jwt != nil {
		guarded.Use(s.bearerAuth)
	}
	guarded.GET("/metrics", s.handleMetrics)
	guarded.GET("/rooms", s.handleRooms)
}

// bearerAuth validates the Authorization header against the token service.
func (s *Server) bearerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		if _, err := s.jwt.ValidateToken(token); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": s.metrics.Uptime().Seconds(),
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.metrics.Summary())
}

type roomView struct {
	RoomID  string `json:"room_id"`
	Private bool   `json:"private"`
	Owner   string `json:"owner"`
	Members int    `json:"members"`
}

func (s *Server) handleRooms(c echo.Context) error {
	rooms := s.rooms.All()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	views := make([]roomView, 0, len(rooms))
	for _, rm := range rooms {
		views = append(views, roomView{
			RoomID:  rm.ID,
			Private: rm.Private,
			Owner:   rm.Owner(),
			Members: rm.MemberCount(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rooms":       views,
		"connections": s.sessions.Count(),
	})
}

// Start runs the admin listener until it fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	log.Printf("[admin] listening on %s", addr)
	return s.echo.Start(addr)
}

// Shutdown stops the admin listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
