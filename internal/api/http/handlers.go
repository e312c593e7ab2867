package http

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/virtdev/chardevd/internal/device"
	"github.com/virtdev/chardevd/internal/monitoring"
)

// Handlers serves the observability surface. The data path is the
// device node; nothing here writes to the device.
type Handlers struct {
	device  *device.Device
	metrics *monitoring.Metrics
}

// NewHandlers creates the handler set.
func NewHandlers(dev *device.Device, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{device: dev, metrics: metrics}
}

// Register mounts all routes on the router.
func (h *Handlers) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)
	r.GET("/chunks", h.Chunks)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{})))
	r.GET("/metrics/json", h.MetricsJSON)
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "chardevd",
		"device":    h.device.Name(),
		"timestamp": time.Now().Unix(),
	})
}

// Status reports the device's registration state and open count.
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.device.Status())
}

// chunkView is the wire form of a journal record.
type chunkView struct {
	Seq       uint64    `json:"seq"`
	Write     uint64    `json:"write"`
	Offset    int       `json:"offset"`
	Length    int       `json:"length"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Chunks returns the most recent journaled chunks, newest first. Data
// is base64 since written content is arbitrary bytes.
func (h *Handlers) Chunks(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	recs := h.device.Journal().Recent(limit)
	views := make([]chunkView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, chunkView{
			Seq:       rec.Seq,
			Write:     rec.Write,
			Offset:    rec.Offset,
			Length:    len(rec.Data),
			Data:      base64.StdEncoding.EncodeToString(rec.Data),
			Timestamp: rec.Timestamp,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"device": h.device.Name(),
		"count":  len(views),
		"chunks": views,
	})
}

// MetricsJSON returns the metrics snapshot for clients that do not
// scrape Prometheus.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetSnapshot())
}
