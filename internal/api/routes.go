package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/cfdp/internal/engine"
	"github.com/danmuck/cfdp/internal/protocol/pdu"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": "cfdpd-api",
			"entity":    uint64(s.opts.LocalEntity),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	transfers := s.router.Group("/transfers", s.requireToken)

	transfers.GET("", func(c *gin.Context) {
		onlyOngoing := false
		if raw := c.Query("ongoing"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "ongoing must be a boolean"})
				return
			}
			onlyOngoing = v
		}
		views := s.transfers.ListTransfers(onlyOngoing)
		out := make([]Transfer, 0, len(views))
		for _, v := range views {
			out = append(out, transferFromView(v))
		}
		c.JSON(http.StatusOK, gin.H{"transfers": out})
	})

	transfers.POST("", func(c *gin.Context) {
		var body PutRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req, err := body.toEngine()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := s.transfers.SubmitPut(req)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, PutResponse{ID: id.String()})
	})

	transfers.GET("/:id", func(c *gin.Context) {
		id, ok := s.transactionID(c)
		if !ok {
			return
		}
		v, found := s.transfers.GetTransfer(id)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "transfer not found"})
			return
		}
		c.JSON(http.StatusOK, transferFromView(v))
	})

	transfers.POST("/:id/cancel", func(c *gin.Context) {
		id, ok := s.transactionID(c)
		if !ok {
			return
		}
		if err := s.transfers.Cancel(id); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested", "id": id.String()})
	})

	transfers.DELETE("/:id", func(c *gin.Context) {
		id, ok := s.transactionID(c)
		if !ok {
			return
		}
		if err := s.transfers.Purge(id); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// transactionID parses :id, accepting a bare sequence number for locally
// originated transfers.
func (s *Server) transactionID(c *gin.Context) (pdu.TransactionID, bool) {
	id, err := pdu.ParseTransactionID(c.Param("id"), s.opts.LocalEntity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return pdu.TransactionID{}, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidPutRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrTransactionTerminal), errors.Is(err, engine.ErrNotTerminal):
		return http.StatusConflict
	case errors.Is(err, engine.ErrEngineClosed), errors.Is(err, engine.ErrSequenceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
