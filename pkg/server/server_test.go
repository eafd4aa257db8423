package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/itohio/pulsepeak/pkg/annotate"
	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/metrics"
	"github.com/itohio/pulsepeak/pkg/store"
	"github.com/itohio/pulsepeak/pkg/synth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type sessions []store.Session

func (s sessions) List(context.Context) ([]store.Session, error) { return s, nil }

type fixture struct {
	srv *Server
	m   *metrics.AnnotationMetrics
	reg *prometheus.Registry
	dir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := synth.DefaultConfig()
	cfg.Noise = 0
	rec := synth.Generate(cfg, int(10*cfg.SampleRate))
	raw := make([]float64, len(rec.PPG))
	for i, v := range rec.PPG {
		raw[i] = synth.Sensor(v, 50000, 2000)
	}

	dir := t.TempDir()
	book, err := store.OpenStatusBook(filepath.Join(dir, "session_status.json"))
	require.NoError(t, err)
	src := sessions{
		{ID: "11111111-a", DeviceID: "esp32", UserName: "ana", SamplingRateHz: rec.SampleRate, IRWaveform: raw},
		{ID: "22222222-b", DeviceID: "esp32", UserName: "bo", SamplingRateHz: rec.SampleRate, IRWaveform: raw},
	}
	log := zaptest.NewLogger(t)
	ws := annotate.NewWorkspace(src, book, store.CSVSink{Dir: dir}, annotate.OptionsFrom(config.Default().Annotation), log)
	require.NoError(t, ws.Reload(context.Background()))

	reg := prometheus.NewRegistry()
	m, err := metrics.NewAnnotationMetrics(reg)
	require.NoError(t, err)

	srv := New(ws, Options{CacheTTL: time.Minute, Metrics: m, Gatherer: reg}, log)
	return &fixture{srv: srv, m: m, reg: reg, dir: dir}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_ListAndGet(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]SessionInfo](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "22222222-b", list[1].ID)
	assert.Equal(t, store.StatusPending, list[0].Status)

	rec = f.do(t, http.MethodGet, "/api/sessions/0?signal=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[SessionView](t, rec)
	assert.NotEmpty(t, view.Peaks)
	assert.Len(t, view.Signal, 1250)
	assert.True(t, view.Summary.Plausible)
	assert.False(t, view.CanUndo)

	rec = f.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, store.Counts{Pending: 2, Total: 2}, decode[store.Counts](t, rec))
}

func TestServer_Errors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"bad index", http.MethodGet, "/api/sessions/x", "", http.StatusBadRequest},
		{"missing session", http.MethodGet, "/api/sessions/7", "", http.StatusNotFound},
		{"missing time", http.MethodPost, "/api/sessions/0/toggle", `{}`, http.StatusBadRequest},
		{"time out of range", http.MethodPost, "/api/sessions/0/toggle", `{"time_s": 99}`, http.StatusBadRequest},
		{"nothing to undo", http.MethodPost, "/api/sessions/0/undo", "", http.StatusConflict},
		{"no model", http.MethodPost, "/api/sessions/0/detect", `{"method": "model"}`, http.StatusConflict},
		{"unknown method", http.MethodPost, "/api/sessions/0/detect", `{"method": "magic"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Requests.WithLabelValues("/api/sessions/:idx", "404")))
}

func TestServer_EditAndSave(t *testing.T) {
	f := newFixture(t)

	view := decode[SessionView](t, f.do(t, http.MethodGet, "/api/sessions/0", ""))
	require.Greater(t, len(view.Peaks), 2)
	at := view.PeakTimes[1]

	rec := f.do(t, http.MethodPost, "/api/sessions/0/toggle", `{"time_s": `+jsonFloat(at)+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	toggled := decode[toggleResponse](t, rec)
	assert.Equal(t, annotate.EditRemoved, toggled.Edit.Kind)
	assert.Len(t, toggled.Peaks, len(view.Peaks)-1)
	assert.True(t, toggled.CanUndo)

	undone := decode[SessionView](t, f.do(t, http.MethodPost, "/api/sessions/0/undo", ""))
	assert.Equal(t, view.Peaks, undone.Peaks)

	rec = f.do(t, http.MethodPost, "/api/sessions/0/detect", `{"method": "adaptive"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/sessions/0/save", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[saveResponse](t, rec)
	assert.Equal(t, f.dir, filepath.Dir(saved.Path))
	assert.Equal(t, 1, saved.Next)

	rec = f.do(t, http.MethodPost, "/api/sessions/1/bad", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[nextResponse](t, rec).Next, "nothing left pending")

	assert.Equal(t, store.Counts{Done: 1, Bad: 1, Total: 2}, decode[store.Counts](t, f.do(t, http.MethodGet, "/api/stats", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Edits.WithLabelValues("remove")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Saves.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.Saves.WithLabelValues("bad")))
}

func TestServer_ChartAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/1/chart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "esp32 - bo")
	assert.Contains(t, rec.Body.String(), "getZr", "clicks toggle peaks")
	assert.Contains(t, rec.Body.String(), "toggle")

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pulsepeak_annotate_requests_total")
}

func TestServer_Reload(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/sessions/0/toggle", `{"time_s": 1}`)

	rec := f.do(t, http.MethodPost, "/api/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.srv.editors.ItemCount())
}

func TestServer_Run(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	f := newFixture(t)
	f.srv.opts.Listen = addr
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/stats")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}

func jsonFloat(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
