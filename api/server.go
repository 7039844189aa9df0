// Package api exposes the relayer over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/blndgs/erc7806"
	"github.com/blndgs/erc7806/internal/logger"
	"github.com/blndgs/erc7806/relayer"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IntentRequest carries one packed intent.
type IntentRequest struct {
	Intent string `json:"intent" binding:"required,hex_bytes"`
}

// SubmitRequest carries a transport buffer of concatenated intents.
type SubmitRequest struct {
	Intents string `json:"intents" binding:"required,hex_bytes"`
}

// Server serves the relayer API.
type Server struct {
	addr     string
	service  *relayer.Service
	producer relayer.Producer
	log      *slog.Logger
}

// NewServer builds a server. producer may be nil, which disables enqueueing.
func NewServer(addr string, service *relayer.Service, producer relayer.Producer) *Server {
	return &Server{addr: addr, service: service, producer: producer, log: logger.Named("api")}
}

// Router registers the routes on a new gin engine.
func (s *Server) Router() (*gin.Engine, error) {
	if err := erc7806.NewValidator(); err != nil {
		return nil, err
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.health)
	v1 := r.Group("/v1")
	v1.POST("/intents/validate", s.validate)
	v1.POST("/intents/decode", s.decode)
	v1.POST("/intents", s.submit)
	v1.POST("/intents/enqueue", s.enqueue)
	v1.GET("/tickets/:ticket", s.ticket)
	return r, nil
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	router, err := s.Router()
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              s.addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"chainId": s.service.ChainID().String(),
		"relayer": s.service.Relayer().Hex(),
	})
}

func (s *Server) validate(c *gin.Context) {
	var req IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.service.Validate(c.Request.Context(), hexutil.MustDecode(req.Intent))
	outcome := erc7806.OutcomeOf(err)
	if err != nil {
		c.JSON(StatusFor(outcome), gin.H{"outcome": outcome, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

func (s *Server) decode(c *gin.Context) {
	var req IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := erc7806.NewIntentView(hexutil.MustDecode(req.Intent), s.service.ChainID())
	if err != nil {
		outcome := erc7806.OutcomeOf(err)
		c.JSON(StatusFor(outcome), gin.H{"outcome": outcome, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipts, err := s.service.Submit(c.Request.Context(), hexutil.MustDecode(req.Intents))
	if err != nil {
		outcome := erc7806.OutcomeOf(err)
		c.JSON(StatusFor(outcome), gin.H{"outcome": outcome, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipts": receipts})
}

func (s *Server) enqueue(c *gin.Context) {
	if s.producer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue is not configured"})
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ticket := uuid.NewString()
	if err := s.service.Enqueue(c.Request.Context(), s.producer, ticket, hexutil.MustDecode(req.Intents)); err != nil {
		outcome := erc7806.OutcomeOf(err)
		c.JSON(StatusFor(outcome), gin.H{"outcome": outcome, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ticket": ticket})
}

func (s *Server) ticket(c *gin.Context) {
	id := c.Param("ticket")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticket must be a UUID"})
		return
	}
	result, ok := s.service.Tickets().Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown ticket"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// StatusFor maps an outcome to the HTTP status the API answers with.
func StatusFor(outcome erc7806.Outcome) int {
	switch outcome {
	case erc7806.Approved:
		return http.StatusOK
	case erc7806.OutcomeMalformed:
		return http.StatusBadRequest
	case erc7806.OutcomeInvalidSig:
		return http.StatusUnauthorized
	case erc7806.OutcomeNoFunds:
		return http.StatusPaymentRequired
	case erc7806.OutcomeUnauthorized:
		return http.StatusForbidden
	case erc7806.OutcomeAlreadyUsed:
		return http.StatusConflict
	case erc7806.OutcomeExpired:
		return http.StatusGone
	case erc7806.OutcomeUnknownStandard, erc7806.OutcomeExecFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
