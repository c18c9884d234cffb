package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vultisig/vultisig-gather/config"
	"github.com/vultisig/vultisig-gather/contexthelper"
	"github.com/vultisig/vultisig-gather/interaction"
	"github.com/vultisig/vultisig-gather/model"
	"github.com/vultisig/vultisig-gather/sender"
	"github.com/vultisig/vultisig-gather/storage"
)

type Server struct {
	port       int64
	s          storage.Storage
	registry   *interaction.Registry
	dispatcher *sender.Dispatcher
	engine     config.Engine
	e          *echo.Echo

	ctx    context.Context
	cancel context.CancelFunc
	polls  sync.WaitGroup
}

// NewServer returns a new server. Interactions posted to it are normalized
// against dispatcher and pushed into registry.
func NewServer(port int64, s storage.Storage, registry *interaction.Registry, dispatcher *sender.Dispatcher, engine config.Engine) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		port:       port,
		s:          s,
		registry:   registry,
		dispatcher: dispatcher,
		engine:     engine,
		e:          echo.New(),
		ctx:        ctx,
		cancel:     cancel,
	}
	server.routes()
	return server
}

func (s *Server) routes() {
	e := s.e
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	//enable cors
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("10M"))
	e.GET("/ping", s.Ping)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	group := e.Group("")
	group.POST("/:sessionID", s.StartSession)
	group.GET("/:sessionID", s.GetSession)
	group.DELETE("/:sessionID", s.DeleteSession)
	group.POST("/message/:sessionID", s.PostMessage)
	group.GET("/message/:sessionID/:participantID", s.GetMessage)
	group.DELETE("/message/:sessionID/:participantID/:hash", s.DeleteMessage)
	group.POST("/interaction/:sessionID", s.PostInteraction)
	group.POST("/start/:sessionID", s.CheckInStart)
	group.GET("/start/:sessionID", s.GetStart)
	group.POST("/complete/:sessionID", s.CheckInComplete)
	group.GET("/complete/:sessionID", s.GetComplete)
	group.POST("/poll/:sessionID", s.StartPoll)
	group.GET("/poll/:sessionID/:pollID", s.GetPoll)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) StartServer() error {
	s.e.Logger.SetLevel(log.Level())
	return s.e.Start(fmt.Sprintf(":%d", s.port))
}

// StopServer stops running polls and shuts the HTTP server down.
func (s *Server) StopServer() error {
	s.cancel()
	s.polls.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return s.e.Shutdown(ctx)
}

func (s *Server) Ping(c echo.Context) error {
	return c.String(http.StatusOK, "Gather relay is running")
}

// StartSession is to start a new session that participants exchange messages in.
func (s *Server) StartSession(c echo.Context) error {
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	var p []string
	if err := c.Bind(&p); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if err := s.s.SetSession(c.Request().Context(), sessionID, p); err != nil {
		c.Logger().Error(err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) GetSession(c echo.Context) error {
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	p, err := s.s.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, model.Session{SessionID: sessionID, Participants: p})
}

// DeleteSession is to end a session.
func (s *Server) DeleteSession(c echo.Context) error {
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	if err := s.s.DeleteSession(c.Request().Context(), sessionID); err != nil {
		c.Logger().Errorf("fail to delete session %s,err: %s", sessionID, err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusOK)
}

// mailbox extracts the mailbox key of a participant route.
func mailbox(c echo.Context) (string, bool) {
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	rawParticipantID, err := url.QueryUnescape(c.Param("participantID"))
	if err != nil {
		c.Logger().Errorf("fail to unescape participant ID %s, err: %s", c.Param("participantID"), err)
		return "", false
	}
	participantID := strings.TrimSpace(rawParticipantID)
	if sessionID == "" || participantID == "" {
		return "", false
	}
	return storage.MailboxKey(sessionID, participantID, c.Request().Header.Get("message_id")), true
}

func (s *Server) GetMessage(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	key, ok := mailbox(c)
	if !ok {
		return c.NoContent(http.StatusBadRequest)
	}
	messages, err := s.s.GetMessages(c.Request().Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		return c.NoContent(http.StatusOK)
	}
	if err != nil {
		c.Logger().Errorf("fail to get messages %s, err: %s", key, err)
		return c.NoContent(http.StatusInternalServerError)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

// DeleteMessage is to acknowledge a delivered message.
func (s *Server) DeleteMessage(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	key, ok := mailbox(c)
	msgHash := strings.TrimSpace(c.Param("hash"))
	if !ok || msgHash == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	if err := s.s.DeleteMessage(c.Request().Context(), key, msgHash); err != nil {
		c.Logger().Errorf("fail to delete message %s, err: %s", key, err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusOK)
}

// PostMessage relays a message between participants without involving the
// engine.
func (s *Server) PostMessage(c echo.Context) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		c.Logger().Error("session ID is empty")
		return c.NoContent(http.StatusBadRequest)
	}
	messageID := c.Request().Header.Get("message_id")
	var m model.Message
	if err := c.Bind(&m); err != nil {
		c.Logger().Error(err)
		return c.NoContent(http.StatusBadRequest)
	}
	for _, item := range m.To {
		key := storage.MailboxKey(sessionID, item, messageID)
		if err := s.s.SetMessage(c.Request().Context(), key, m); err != nil {
			c.Logger().Error(err)
			return c.NoContent(http.StatusInternalServerError)
		}
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) checkIn(c echo.Context, prefix string) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	var p []string
	if err := c.Bind(&p); err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	if err := s.s.SetSession(c.Request().Context(), storage.PrefixedKey(prefix, sessionID), p); err != nil {
		c.Logger().Error(err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) getCheckIns(c echo.Context, prefix string) error {
	if contexthelper.CheckCancellation(c.Request().Context()) != nil {
		return c.NoContent(http.StatusRequestTimeout)
	}
	sessionID := strings.TrimSpace(c.Param("sessionID"))
	if sessionID == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	participants, err := s.s.GetSession(c.Request().Context(), storage.PrefixedKey(prefix, sessionID))
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, participants)
}

func (s *Server) CheckInStart(c echo.Context) error {
	return s.checkIn(c, "start")
}

func (s *Server) GetStart(c echo.Context) error {
	return s.getCheckIns(c, "start")
}

// CheckInComplete records groups at the "complete-<id>" barrier.
func (s *Server) CheckInComplete(c echo.Context) error {
	return s.checkIn(c, "complete")
}

func (s *Server) GetComplete(c echo.Context) error {
	return s.getCheckIns(c, "complete")
}
