package server

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/penwyp/go-log-plotter/internal/core/cursor"
	"github.com/penwyp/go-log-plotter/internal/util"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Sorted map keys keep responses stable between polls.
var jsonAPI = sonic.ConfigStd

// handleData delivers every block the consumer has not seen, newest first.
func (s *Server) handleData(c *gin.Context) {
	id := c.Query("client_id")
	if id == "" {
		id = DefaultClientID
	}

	// The cursor only advances once the blocks are encoded, so a failed
	// response never loses data.
	var body []byte
	d, err := s.tracker.DeliverWith(id, s.buffer, func(d cursor.Delivery) error {
		var err error
		body, err = jsonAPI.Marshal(d.Blocks)
		return err
	})
	if err != nil {
		util.LogErrorf("Failed to encode blocks for %s: %v", id, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "encoding failed"})
		return
	}
	s.metrics.RecordDelivery(len(d.Blocks), d.Gap, s.tracker.Len())

	c.Header(EpochHeader, s.epoch)
	if d.Gap {
		c.Header(GapHeader, "true")
		util.LogDebugf("Consumer %s fell behind the retention window", id)
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}

// handleConfig returns plot metadata per record type, without patterns.
func (s *Server) handleConfig(c *gin.Context) {
	c.Header(EpochHeader, s.epoch)
	c.Data(http.StatusOK, contentTypeJSON, s.meta)
}

type healthResponse struct {
	Status    string  `json:"status"`
	Epoch     string  `json:"epoch"`
	Blocks    int     `json:"blocks"`
	Span      float64 `json:"span"`
	Consumers int     `json:"consumers"`
}

func (s *Server) handleHealth(c *gin.Context) {
	body, err := jsonAPI.Marshal(healthResponse{
		Status:    "ok",
		Epoch:     s.epoch,
		Blocks:    s.buffer.Len(),
		Span:      s.buffer.Span(),
		Consumers: s.tracker.Len(),
	})
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}

func logRequest(method, path string, status int, elapsed time.Duration) {
	util.LogDebug("http request",
		util.F("method", method),
		util.F("path", path),
		util.F("status", status),
		util.F("elapsed", elapsed.String()),
	)
}
