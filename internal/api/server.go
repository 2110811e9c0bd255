// Package api exposes the transfer engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/cfdp/internal/auth"
	"github.com/danmuck/cfdp/internal/engine"
	"github.com/danmuck/cfdp/internal/observability"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/danmuck/cfdp/internal/transfer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Transfers is the part of the engine the HTTP surface drives.
type Transfers interface {
	SubmitPut(req engine.PutRequest) (pdu.TransactionID, error)
	ListTransfers(onlyOngoing bool) []transfer.View
	GetTransfer(id pdu.TransactionID) (transfer.View, bool)
	Cancel(id pdu.TransactionID) error
	Purge(id pdu.TransactionID) error
}

type Options struct {
	// Node labels request metrics.
	Node        string
	LocalEntity pdu.EntityID
	Validator   auth.Validator
	CorsOrigins []string
}

type Server struct {
	transfers Transfers
	opts      Options
	router    *gin.Engine
	started   time.Time
}

func New(transfers Transfers, opts Options) *Server {
	if opts.Validator == nil {
		opts.Validator = auth.Open{}
	}
	if opts.Node == "" {
		opts.Node = "cfdpd"
	}
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetrics(opts.Node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{transfers: transfers, opts: opts, router: r, started: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Msgf("api.Server.Serve listening addr=%s", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Msg("api.Server.Serve shutdown")
		return nil
	}
}

func (s *Server) requireToken(c *gin.Context) {
	if err := auth.Authorize(s.opts.Validator, c.GetHeader("Authorization")); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
