// Package api exposes the dashboard over HTTP with gin.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mixelka/maildash/internal/manager"
	"github.com/mixelka/maildash/pkg/models"
)

// Accounts is the aggregation surface the API reads from
type Accounts interface {
	GetAccountSummary() []manager.AccountSummary
	GetUnreadCounts(ctx context.Context) manager.UnreadCountResult
	SearchAcrossAccounts(ctx context.Context, query string, limit int) manager.MessagesResult
	RecentAcrossAccounts(ctx context.Context, limit int) manager.MessagesResult
}

// Batches runs and looks up trash and restore batches
type Batches interface {
	Trash(ctx context.Context, accountID string, ids []string) (models.Batch, error)
	Restore(ctx context.Context, accountID string, ids []string) (models.Batch, error)
	Get(ctx context.Context, id string) (models.Batch, bool, error)
}

// AuditReader lists audit log entries
type AuditReader interface {
	ListAudit(ctx context.Context, accountID string, limit int) ([]*models.AuditLogEntry, error)
}

// Config configures the HTTP server
type Config struct {
	Addr        string
	SearchLimit int
	Logger      *slog.Logger
}

// Server is the HTTP API
type Server struct {
	accounts    Accounts
	batches     Batches
	audit       AuditReader
	searchLimit int
	logger      *slog.Logger
	router      *gin.Engine
	http        *http.Server
}

// NewServer wires the routes
func NewServer(cfg Config, accounts Accounts, batches Batches, audit AuditReader) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.SearchLimit
	if limit <= 0 {
		limit = 25
	}

	s := &Server{
		accounts:    accounts,
		batches:     batches,
		audit:       audit,
		searchLimit: limit,
		logger:      logger.With("component", "api"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/accounts", s.handleAccounts)
		api.GET("/stats", s.handleStats)
		api.GET("/emails/recent", s.handleRecent)
		api.GET("/search", s.handleSearch)
		api.POST("/emails/trash", s.handleTrash)
		api.POST("/emails/restore", s.handleRestore)
		api.GET("/batches/:id", s.handleBatch)
		api.GET("/audit", s.handleAudit)
	}

	s.router = r
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down http server")
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
