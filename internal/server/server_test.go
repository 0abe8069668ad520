package server

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/go-log-plotter/internal/config"
	"github.com/penwyp/go-log-plotter/internal/core/buffer"
	"github.com/penwyp/go-log-plotter/internal/core/cursor"
	"github.com/penwyp/go-log-plotter/internal/core/model"
	"github.com/penwyp/go-log-plotter/internal/core/pattern"
	"github.com/penwyp/go-log-plotter/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	srv     *Server
	buf     *buffer.Retention
	tracker *cursor.Tracker
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	axis := 1
	ps, err := pattern.Compile([]pattern.Definition{{
		Name:   "cpu",
		Regex:  `t=(?P<ts>[\d.]+) usage=(?P<usage>\d+)`,
		Fields: []pattern.FieldDefinition{{Name: "usage", Axis: &axis, Style: "r-", Clamp: []float64{0, 100}}},
	}})
	require.NoError(t, err)

	if opts.Epoch == "" {
		opts.Epoch = "test-epoch"
	}
	buf := buffer.NewRetention(5)
	tracker := cursor.NewTracker()
	srv, err := New(buf, tracker, ps, monitoring.NewMetrics(), opts)
	require.NoError(t, err)
	return &fixture{srv: srv, buf: buf, tracker: tracker}
}

func (f *fixture) appendBlock(ts float64, values ...float64) {
	b := model.NewBlock()
	b.TS = ts
	samples := []model.Sample{}
	for _, v := range values {
		samples = append(samples, model.Sample{TS: ts, Value: v})
	}
	b.Fields["usage"] = samples
	f.buf.Append(b)
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBlocks(t *testing.T, body []byte) []*model.Block {
	t.Helper()
	var blocks []*model.Block
	require.NoError(t, sonic.Unmarshal(body, &blocks))
	return blocks
}

func TestDataDeliversIncrementally(t *testing.T) {
	f := newFixture(t, Options{})
	f.appendBlock(1, 50)
	f.appendBlock(2, 75)

	w := f.get(t, "/data?client_id=A")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test-epoch", w.Header().Get(EpochHeader))
	assert.Empty(t, w.Header().Get(GapHeader))

	blocks := decodeBlocks(t, w.Body.Bytes())
	require.Len(t, blocks, 2)
	assert.Equal(t, 2.0, blocks[0].TS, "newest first")
	assert.Equal(t, []model.Sample{{TS: 2, Value: 75}}, blocks[0].Fields["usage"])

	w = f.get(t, "/data?client_id=A")
	assert.JSONEq(t, "[]", w.Body.String())

	f.appendBlock(3, 80)
	blocks = decodeBlocks(t, f.get(t, "/data?client_id=A").Body.Bytes())
	require.Len(t, blocks, 1)
	assert.Equal(t, 3.0, blocks[0].TS)
}

func TestDataWireFormat(t *testing.T) {
	f := newFixture(t, Options{})
	f.appendBlock(1, 50)

	w := f.get(t, "/data?client_id=wire")
	assert.JSONEq(t, `[{"usage":[[1,50]],"ts":1}]`, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestDataDefaultClientID(t *testing.T) {
	f := newFixture(t, Options{})
	f.appendBlock(1, 50)

	require.Len(t, decodeBlocks(t, f.get(t, "/data").Body.Bytes()), 1)

	cur, ok := f.tracker.Cursor(DefaultClientID)
	require.True(t, ok)
	assert.Equal(t, 1.0, cur)
	assert.Empty(t, decodeBlocks(t, f.get(t, "/data?client_id=").Body.Bytes()))
}

func TestDataEncodeFailureKeepsCursor(t *testing.T) {
	f := newFixture(t, Options{})
	f.appendBlock(1, 50)
	f.appendBlock(2, math.Inf(1))

	w := f.get(t, "/data?client_id=A")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	cur, ok := f.tracker.Cursor("A")
	require.True(t, ok)
	assert.Equal(t, cursor.Unset, cur, "nothing counts as delivered when encoding fails")
}

func TestDataGapHeader(t *testing.T) {
	f := newFixture(t, Options{})
	f.appendBlock(1, 1)
	f.get(t, "/data?client_id=slow")

	f.appendBlock(4, 2)
	f.appendBlock(9, 3)
	f.appendBlock(12, 4)

	w := f.get(t, "/data?client_id=slow")
	assert.Equal(t, "true", w.Header().Get(GapHeader))
}

func TestConfigEndpoint(t *testing.T) {
	f := newFixture(t, Options{})

	w := f.get(t, "/config")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test-epoch", w.Header().Get(EpochHeader))
	assert.JSONEq(t, `{"cpu":{"plots":{"usage":{"axis":1,"style":"r-","coef":1,"ylim":[0,100]}}}}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "usage=")
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	f.appendBlock(1, 1)
	f.appendBlock(3, 1)
	f.get(t, "/data?client_id=A")

	w := f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","epoch":"test-epoch","blocks":2,"span":2,"consumers":1}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	f.get(t, "/data?client_id=A")

	w := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "logplot_blocks_delivered_total")
}

func TestRateLimit(t *testing.T) {
	settings := config.DefaultServerSettings()
	settings.RateLimit = config.RateLimit{RequestsPerSecond: 0.001, Burst: 2, Enabled: true}
	f := newFixture(t, Options{Settings: settings})

	assert.Equal(t, http.StatusOK, f.get(t, "/data").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/data").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.get(t, "/data").Code)

	assert.Equal(t, http.StatusOK, f.get(t, "/health").Code, "only polling is limited")
}

func TestRateLimitDisabled(t *testing.T) {
	settings := config.DefaultServerSettings()
	settings.RateLimit = config.RateLimit{Enabled: false}
	f := newFixture(t, Options{Settings: settings})

	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, f.get(t, "/data").Code)
	}
}

func TestCORSExposesStreamHeaders(t *testing.T) {
	f := newFixture(t, Options{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Origin", "http://plots.example")
	f.srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), EpochHeader)
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>plots</html>"), 0644))

	f := newFixture(t, Options{StaticDir: dir})
	w := f.get(t, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plots")

	assert.Equal(t, http.StatusNotFound, f.get(t, "/missing.js").Code)
}

func TestGeneratedEpoch(t *testing.T) {
	ps, err := pattern.Compile([]pattern.Definition{{
		Name:   "x",
		Regex:  `x=(?P<x>\d+)`,
		Fields: []pattern.FieldDefinition{{Name: "x"}},
	}})
	require.NoError(t, err)

	a, err := New(buffer.NewRetention(0), cursor.NewTracker(), ps, monitoring.NewMetrics(), Options{})
	require.NoError(t, err)
	b, err := New(buffer.NewRetention(0), cursor.NewTracker(), ps, monitoring.NewMetrics(), Options{})
	require.NoError(t, err)

	assert.Len(t, a.Epoch(), 36)
	assert.NotEqual(t, a.Epoch(), b.Epoch())
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, Options{})
	f.appendBlock(1, 50)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/data?client_id=live")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Len(t, decodeBlocks(t, body), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
