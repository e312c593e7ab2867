package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtdev/chardevd/internal/device"
	"github.com/virtdev/chardevd/internal/logging"
	"github.com/virtdev/chardevd/internal/monitoring"
	"github.com/virtdev/chardevd/internal/registry"
)

func setupRouter(t *testing.T) (*gin.Engine, *device.Device) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewMetrics()
	t.Cleanup(metrics.Close)

	dev, err := device.New(device.Config{
		ID:          1,
		BaseName:    "dummycdd",
		ClassName:   "dummycdd",
		BufferSize:  8,
		JournalSize: 16,
	}, registry.NewMem(), logging.NewNop(), metrics)
	require.NoError(t, err)
	require.NoError(t, dev.Initialize())
	t.Cleanup(dev.Shutdown)

	r := gin.New()
	NewHandlers(dev, metrics).Register(r)
	return r, dev
}

func doGET(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(t)

	w := doGET(r, "/health")
	assert.Equal(t, 200, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "dummycdd1", body["device"])
}

func TestStatus(t *testing.T) {
	r, dev := setupRouter(t)
	dev.Open()
	dev.Open()

	w := doGET(r, "/status")
	assert.Equal(t, 200, w.Code)

	var st device.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "dummycdd1", st.Name)
	assert.Equal(t, "registered", st.State)
	assert.Equal(t, registry.FirstMajor, st.Major)
	assert.Equal(t, int64(2), st.OpenCount)
}

func TestChunks(t *testing.T) {
	r, dev := setupRouter(t)
	dev.Write([]byte("abcdefgh12345")) // 8 + 5 with BufferSize 8

	w := doGET(r, "/chunks")
	assert.Equal(t, 200, w.Code)

	var body struct {
		Device string `json:"device"`
		Count  int    `json:"count"`
		Chunks []struct {
			Offset int    `json:"offset"`
			Length int    `json:"length"`
			Data   string `json:"data"`
		} `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "dummycdd1", body.Device)
	require.Equal(t, 2, body.Count)

	// Newest first: the short tail chunk carries only its 5 bytes.
	assert.Equal(t, 5, body.Chunks[0].Length)
	decoded, err := base64.StdEncoding.DecodeString(body.Chunks[0].Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("12345"), decoded)

	assert.Equal(t, 8, body.Chunks[1].Length)
	assert.Equal(t, 0, body.Chunks[1].Offset)
}

func TestChunksLimit(t *testing.T) {
	r, dev := setupRouter(t)
	for i := 0; i < 5; i++ {
		dev.Write([]byte("x"))
	}

	w := doGET(r, "/chunks?limit=2")
	assert.Equal(t, 200, w.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestChunksBadLimit(t *testing.T) {
	r, _ := setupRouter(t)

	assert.Equal(t, 400, doGET(r, "/chunks?limit=zero").Code)
	assert.Equal(t, 400, doGET(r, "/chunks?limit=0").Code)
}

func TestMetricsJSON(t *testing.T) {
	r, dev := setupRouter(t)
	dev.Open()
	dev.Write([]byte("hello"))

	w := doGET(r, "/metrics/json")
	assert.Equal(t, 200, w.Code)

	var snap monitoring.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.OpensTotal)
	assert.Equal(t, int64(1), snap.WritesTotal)
	assert.Equal(t, int64(5), snap.BytesIngested)
}

func TestPrometheusEndpoint(t *testing.T) {
	r, dev := setupRouter(t)
	dev.Open()

	w := doGET(r, "/metrics")
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "chardevd_opens_total")
}
