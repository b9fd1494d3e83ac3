// Package api is the thin HTTP surface for collaborators: read the
// state snapshot, read board lifecycle status, submit commands.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/proplab/standd/internal/dispatch"
	"github.com/proplab/standd/internal/logging"
	"github.com/proplab/standd/internal/registry"
	"github.com/proplab/standd/internal/state"
)

type Server struct {
	echo       *echo.Echo
	store      *state.Store
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
}

type commandResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewServer(store *state.Store, reg *registry.Registry, dispatcher *dispatch.Dispatcher) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, store: store, reg: reg, dispatcher: dispatcher}

	e.GET("/state", s.handleState)
	e.GET("/boards", s.handleBoards)
	e.POST("/command", s.handleCommand)
	e.POST("/disarm", s.handleDisarm)
	e.POST("/boards/:board/restart", s.handleRestart)

	return s
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleBoards(c echo.Context) error {
	return c.JSON(http.StatusOK, s.reg.Statuses())
}

func (s *Server) handleCommand(c echo.Context) error {
	var req dispatch.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	id, err := s.dispatcher.Submit(req)
	if err != nil {
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, commandResponse{ID: id})
}

func (s *Server) handleDisarm(c echo.Context) error {
	s.dispatcher.DisarmAll()
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleRestart(c echo.Context) error {
	if err := s.reg.Restart(c.Param("board")); err != nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	return c.NoContent(http.StatusAccepted)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrNotCommandable), errors.Is(err, state.ErrSchema):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrNotArmed):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrStaleCommand):
		return http.StatusGone
	case errors.Is(err, dispatch.ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	if err := s.echo.Shutdown(ctx); err != nil {
		logging.Warn("http shutdown", "error", err)
	}
}
