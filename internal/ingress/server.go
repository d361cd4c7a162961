// Package ingress exposes the HTTP API used to submit orders and inspect
// dead letters.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vietddude/orderflow/internal/core/domain"
	"github.com/vietddude/orderflow/internal/infra/broker"
	"github.com/vietddude/orderflow/internal/infra/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// DeadLetterView is the JSON shape of a stored dead letter.
type DeadLetterView struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Server is the ingress HTTP server.
type Server struct {
	engine      *gin.Engine
	server      *http.Server
	publisher   broker.Publisher
	deadLetters storage.DeadLetterRepository
	topic       string
	port        int
	newID       func() string
	log         *slog.Logger
}

// NewServer creates a Server publishing submitted orders to topic.
func NewServer(publisher broker.Publisher, deadLetters storage.DeadLetterRepository, topic string, port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:      gin.New(),
		publisher:   publisher,
		deadLetters: deadLetters,
		topic:       topic,
		port:        port,
		newID:       uuid.NewString,
		log:         slog.Default().With("component", "ingress"),
	}

	s.engine.Use(requestLogger(s.log), gin.Recovery())

	api := s.engine.Group("/api")
	api.POST("/orders/create", s.createOrder)
	api.GET("/dead-letters", s.listDeadLetters)
	api.GET("/dead-letters/count", s.countDeadLetters)

	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("Starting ingress server", "port", s.port)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Ingress server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) createOrder(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "failed to read body: %v", err)
		return
	}
	if len(body) == 0 {
		c.String(http.StatusBadRequest, "order payload is required")
		return
	}

	msg := domain.NewMessage("", body).WithHeader(domain.HeaderMessageID, s.newID())
	if err := s.publisher.Publish(c.Request.Context(), s.topic, msg); err != nil {
		s.log.Error("Failed to publish order", "topic", s.topic, "error", err)
		c.String(http.StatusServiceUnavailable, "failed to publish order: %v", err)
		return
	}

	c.String(http.StatusOK, "Order created and published to %s topic: %s", s.topic, string(body))
}

func (s *Server) listDeadLetters(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := s.deadLetters.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]DeadLetterView, 0, len(records))
	for _, r := range records {
		views = append(views, DeadLetterView{
			ID:        r.ID,
			MessageID: r.MessageID,
			Topic:     r.Topic,
			Payload:   string(r.Payload),
			Attempts:  r.Attempts,
			Reason:    r.Reason,
			CreatedAt: r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) countDeadLetters(c *gin.Context) {
	n, err := s.deadLetters.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
		}
		if status >= http.StatusBadRequest {
			log.Warn("HTTP request", attrs...)
		} else {
			log.Debug("HTTP request", attrs...)
		}
	}
}
