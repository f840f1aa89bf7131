package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icpmesh/meshwatch/internal/alert"
	"github.com/icpmesh/meshwatch/internal/broadcast"
	"github.com/icpmesh/meshwatch/internal/engine"
	"github.com/icpmesh/meshwatch/internal/mesh/status"
	"github.com/icpmesh/meshwatch/internal/transport"
	"github.com/icpmesh/meshwatch/pkg/options"
)

type stubTransport struct {
	handler transport.Handler
	sent    []string
}

func (t *stubTransport) Start(ctx context.Context) error { return nil }
func (t *stubTransport) Stop(ctx context.Context)        {}
func (t *stubTransport) OnPacket(h transport.Handler)    { t.handler = h }
func (t *stubTransport) Send(ctx context.Context, destination, text string, wantAck bool) error {
	t.sent = append(t.sent, text)
	return nil
}
func (t *stubTransport) ConnectionState() bool { return true }

func testServer(t *testing.T) (*Server, *engine.Facade, *stubTransport) {
	t.Helper()
	dir := t.TempDir()
	tr := &stubTransport{}
	facade, err := engine.New(engine.Config{
		LocalID:           "!00000001",
		Thresholds:        status.DefaultThresholds(),
		TelemetryInterval: time.Minute,
		SnapshotPath:      filepath.Join(dir, "nodes.json"),
		LogDir:            filepath.Join(dir, "logs"),
		Broadcast:         broadcast.DefaultConfig(),
		Alerts:            alert.DefaultConfig(),
	}, tr)
	require.NoError(t, err)

	opts := options.NewHttpOptions()
	return New(opts, facade), facade, tr
}

func TestNewAppliesHTTPOptions(t *testing.T) {
	s, _, _ := testServer(t)

	opts := options.NewHttpOptions()
	assert.Equal(t, opts.Network, s.network)
	assert.Equal(t, opts.Addr, s.server.Addr)
	assert.Equal(t, opts.Timeout, s.server.ReadTimeout)
	assert.Equal(t, opts.Timeout, s.server.WriteTimeout)
}

func TestListNodesEmpty(t *testing.T) {
	s, _, _ := testServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/nodes", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestGetUnknownNode(t *testing.T) {
	s, _, _ := testServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/nodes/!0000dead", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestForgetNodeEndpoint(t *testing.T) {
	s, _, _ := testServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/nodes/!0000dead", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSendMessage(t *testing.T) {
	s, _, tr := testServer(t)

	body := `{"destination":"!00000002","text":"hello","want_ack":true}`
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "hello", tr.sent[0])
}

func TestSendMessageValidation(t *testing.T) {
	s, _, _ := testServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`{"text":""}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAlertsEndpointReturnsArray(t *testing.T) {
	s, _, _ := testServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var alerts []json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &alerts))
	assert.Empty(t, alerts)
}

func TestHelpEndpoints(t *testing.T) {
	s, facade, _ := testServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/help", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.True(t, facade.HelpRequested())

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/help", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, facade.HelpRequested())
}

func TestProbes(t *testing.T) {
	s, _, _ := testServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}
