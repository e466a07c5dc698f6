package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/internal/config"
	"github.com/Aidin1998/vendorpulse/internal/decision"
	"github.com/Aidin1998/vendorpulse/internal/notify"
	"github.com/Aidin1998/vendorpulse/internal/ws"
	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/logger"
	"github.com/Aidin1998/vendorpulse/pkg/models"
	"github.com/Aidin1998/vendorpulse/pkg/tracing"
)

// Controller is the vendor session surface the control API exposes
type Controller interface {
	View() notify.View
	Orders() []models.IncomingOrderEvent
	Active() (decision.View, bool)
	Activate(ctx context.Context, orderID string) error
	SetQuantity(line int, input string) (decision.View, error)
	RemoveLine(line int) (decision.View, error)
	Confirm(ctx context.Context) (decision.Result, error)
	Reject(ctx context.Context, reason string) (decision.Result, error)
	Dismiss(ctx context.Context) error
	Notifications() []models.Notification
	DismissNotification(id string) bool
	ClearNotifications()
	Nudge(reason string)
	Probe() error
	JoinRoom(room string) error
	LeaveRoom(room string) error
}

// Server represents the local control API
type Server struct {
	cfg    config.ServerConfig
	ctl    Controller
	feed   *Feed
	logger *zap.Logger
	http   *http.Server
}

// NewServer creates a new control API server. feed may be nil.
func NewServer(cfg config.ServerConfig, ctl Controller, feed *Feed, log *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		ctl:    ctl,
		feed:   feed,
		logger: logger.OrNop(log).With(zap.String("component", "server")),
	}
	s.http = &http.Server{
		Addr:              addr(cfg),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func addr(cfg config.ServerConfig) string {
	return cfg.Host + ":" + strconv.Itoa(cfg.Port)
}

// Router creates the HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware(tracing.ServiceName))
	router.Use(cors.New(s.corsConfig()))
	router.Use(requestID(), securityHeaders())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/activity", s.handleActivity)
		api.POST("/probe", s.handleProbe)
		if s.feed != nil {
			api.GET("/stream", func(c *gin.Context) { s.feed.ServeWS(c.Writer, c.Request) })
		}

		orders := api.Group("/orders")
		{
			orders.GET("", s.handleListOrders)
			orders.GET("/active", s.handleActiveOrder)
			orders.POST("/:id/activate", s.handleActivate)

			active := orders.Group("/active")
			{
				active.PATCH("/lines/:line", s.handleSetQuantity)
				active.DELETE("/lines/:line", s.handleRemoveLine)
				active.POST("/confirm", s.handleConfirm)
				active.POST("/reject", s.handleReject)
				active.POST("/dismiss", s.handleDismiss)
			}
		}

		rooms := api.Group("/rooms")
		{
			rooms.POST("/:room/join", s.handleJoinRoom)
			rooms.POST("/:room/leave", s.handleLeaveRoom)
		}

		notifications := api.Group("/notifications")
		{
			notifications.GET("", s.handleListNotifications)
			notifications.DELETE("/:id", s.handleDismissNotification)
			notifications.DELETE("", s.handleClearNotifications)
		}
	}

	return router
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	if len(s.cfg.AllowedOrigins) > 0 {
		cfg.AllowOrigins = s.cfg.AllowedOrigins
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	return cfg
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting control API", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.feed != nil {
		s.feed.Close()
	}
	return s.http.Shutdown(ctx)
}

// writeError renders err as an RFC 7807 problem document
func (s *Server) writeError(c *gin.Context, err error) {
	pd := errors.ToProblemDetails(err, c.Request.URL.Path)
	if pd.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	body, merr := json.Marshal(pd)
	if merr != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(pd.Status, "application/problem+json", body)
	c.Abort()
}

func bindError(err error) error {
	return errors.Validation.Explain("invalid request body: %s", err.Error())
}

func lineParam(c *gin.Context) (int, error) {
	line, err := strconv.Atoi(c.Param("line"))
	if err != nil || line <= 0 {
		return 0, errors.Validation.Explain("line must be a positive number").
			WithField("range", "line", "must be a positive number")
	}
	return line, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	view := s.ctl.View()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"connection": view.Health,
		"pending":    view.PendingOrders,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.View())
}

type activityRequest struct {
	Reason string `json:"reason" binding:"omitempty,oneof=activity visibility focus manual"`
}

// handleActivity reports vendor activity so a dropped link reconnects immediately
func (s *Server) handleActivity(c *gin.Context) {
	var req activityRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, bindError(err))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = ws.NudgeActivity
	}
	s.ctl.Nudge(req.Reason)
	c.JSON(http.StatusAccepted, s.ctl.View())
}

func (s *Server) handleProbe(c *gin.Context) {
	if err := s.ctl.Probe(); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctl.View())
}

func (s *Server) handleListOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"orders":   s.ctl.Orders(),
		"activeId": s.ctl.View().ActiveOrderID,
	})
}

func (s *Server) handleActiveOrder(c *gin.Context) {
	view, ok := s.ctl.Active()
	if !ok {
		s.writeError(c, errors.NotFound.Explain("there is no active order"))
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleActivate(c *gin.Context) {
	if err := s.ctl.Activate(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	s.handleActiveOrder(c)
}

type quantityRequest struct {
	Quantity json.RawMessage `json:"quantity" binding:"required"`
}

func (s *Server) handleSetQuantity(c *gin.Context) {
	line, err := lineParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, bindError(err))
		return
	}
	// accept both 2 and "2"; the draft decides what is applicable
	input := strings.Trim(strings.TrimSpace(string(req.Quantity)), `"`)

	view, err := s.ctl.SetQuantity(line, input)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleRemoveLine(c *gin.Context) {
	line, err := lineParam(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	view, err := s.ctl.RemoveLine(line)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleConfirm(c *gin.Context) {
	res, err := s.ctl.Confirm(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleReject(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, decision.ErrReasonRequired)
		return
	}
	res, err := s.ctl.Reject(c.Request.Context(), req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDismiss(c *gin.Context) {
	if err := s.ctl.Dismiss(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleJoinRoom(c *gin.Context) {
	if err := s.ctl.JoinRoom(c.Param("room")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLeaveRoom(c *gin.Context) {
	if err := s.ctl.LeaveRoom(c.Param("room")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListNotifications(c *gin.Context) {
	view := s.ctl.View()
	c.JSON(http.StatusOK, gin.H{
		"notifications": s.ctl.Notifications(),
		"badge":         view.Badge,
	})
}

func (s *Server) handleDismissNotification(c *gin.Context) {
	if !s.ctl.DismissNotification(c.Param("id")) {
		s.writeError(c, errors.NotFound.Explain("notification %s not found", c.Param("id")))
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleClearNotifications(c *gin.Context) {
	s.ctl.ClearNotifications()
	c.Status(http.StatusNoContent)
}
