// Package operator exposes the HTTP surface for humans: escalation
// approval, rollback, cancellation, and project status.
package operator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/engine"
)

// Orchestrator is the engine surface the operator API drives.
type Orchestrator interface {
	SubmitGoal(ctx context.Context, namespace, goal string) (engine.Project, error)
	Cancel(ctx context.Context, namespace string) error
	Rollback(ctx context.Context, namespace string, target engine.Phase) error
	ResolveEscalation(ctx context.Context, id string, approved bool) error
	Project(namespace string) (engine.Project, error)
	Projects() []engine.Project
	Escalations() *engine.EscalationQueue
}

// Config holds the listener settings.
type Config struct {
	Port            int
	ShutdownTimeout time.Duration
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 9290
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the operator HTTP server.
type Server struct {
	echo   *echo.Echo
	config Config
	orch   Orchestrator
	logger *zap.Logger
}

// NewServer wires routes and middleware.
func NewServer(orch Orchestrator, config Config, logger *zap.Logger) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("operator: orchestrator required")
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{echo: e, config: config, orch: orch, logger: logger}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/projects", s.submitGoal)
	v1.GET("/projects", s.listProjects)
	v1.GET("/projects/:namespace", s.getProject)
	v1.POST("/projects/:namespace/cancel", s.cancelProject)
	v1.POST("/projects/:namespace/rollback", s.rollbackProject)
	v1.GET("/escalations", s.listEscalations)
	v1.POST("/escalations/:id/approve", s.approveEscalation)
	v1.POST("/escalations/:id/reject", s.rejectEscalation)
}

// Start blocks serving until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.config.Port)
		s.logger.Info("operator: listening", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type submitGoalRequest struct {
	Namespace string `json:"namespace"`
	Goal      string `json:"goal"`
}

func (s *Server) submitGoal(c echo.Context) error {
	var req submitGoalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	project, err := s.orch.SubmitGoal(c.Request().Context(), req.Namespace, req.Goal)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrProjectExists):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, engine.ErrProjectCancelled):
			return echo.NewHTTPError(http.StatusGone, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, project)
}

func (s *Server) listProjects(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Projects())
}

func (s *Server) getProject(c echo.Context) error {
	project, err := s.orch.Project(c.Param("namespace"))
	if err != nil {
		if errors.Is(err, engine.ErrProjectNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, project)
}

func (s *Server) cancelProject(c echo.Context) error {
	if err := s.orch.Cancel(c.Request().Context(), c.Param("namespace")); err != nil {
		if errors.Is(err, engine.ErrProjectNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type rollbackRequest struct {
	Phase string `json:"phase"`
}

func (s *Server) rollbackProject(c echo.Context) error {
	var req rollbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	phase, err := engine.ParsePhase(req.Phase)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.orch.Rollback(c.Request().Context(), c.Param("namespace"), phase); err != nil {
		if errors.Is(err, engine.ErrProjectNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listEscalations(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.Escalations().Pending())
}

func (s *Server) approveEscalation(c echo.Context) error {
	return s.resolveEscalation(c, true)
}

func (s *Server) rejectEscalation(c echo.Context) error {
	return s.resolveEscalation(c, false)
}

func (s *Server) resolveEscalation(c echo.Context, approved bool) error {
	err := s.orch.ResolveEscalation(c.Request().Context(), c.Param("id"), approved)
	if err != nil {
		if errors.Is(err, engine.ErrEscalationNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
