package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/realtime/internal/domain"
	"fleet-monitor/realtime/internal/gateway"
	"fleet-monitor/realtime/internal/pipeline"
	"fleet-monitor/realtime/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type tokenTable map[string]domain.Identity

func (t tokenTable) Resolve(_ context.Context, token string) (*domain.Identity, error) {
	id, ok := t[token]
	if !ok {
		return nil, domain.ErrAuth
	}
	return &id, nil
}

var tokens = tokenTable{
	"drv": {SubjectID: "drv-1", Role: domain.RoleDriver, SpaceID: "college-1"},
	"stu": {SubjectID: "stu-1", Role: domain.RoleStudent, SpaceID: "college-1"},
}

type noVehicles struct{}

func (noVehicles) FindByID(context.Context, string) (domain.VehicleMeta, error) {
	return domain.VehicleMeta{}, domain.ErrNotFound
}
func (noVehicles) ListActiveBySpace(context.Context, string) ([]string, error) { return nil, nil }

type noLocations struct{}

func (noLocations) BulkInsert(_ context.Context, recs []domain.BufferedLocationRecord) ([]error, error) {
	return make([]error, len(recs)), nil
}
func (noLocations) LatestSince(context.Context, []string, time.Time) ([]domain.BufferedLocationRecord, error) {
	return nil, nil
}

type noMeta struct{}

func (noMeta) Resolve(context.Context, string) (domain.VehicleMeta, bool, error) {
	return domain.VehicleMeta{}, false, nil
}

type noProximity struct{}

func (noProximity) Evaluate(context.Context, string, string, domain.Coordinate, string) (int, error) {
	return 0, nil
}
func (noProximity) ResetVehicle(context.Context, string) (int64, error) { return 0, nil }

type okPinger struct{ err error }

func (p okPinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, checks map[string]Pinger) (*Server, *gateway.Gateway) {
	t.Helper()
	log := discardLogger()
	gw := gateway.New(gateway.Deps{
		Buffer:    pipeline.NewLocationBuffer(noLocations{}, time.Hour, log),
		Cache:     noMeta{},
		Limiter:   ratelimit.NewLimiter(10, 5*time.Second),
		Proximity: noProximity{},
		Vehicles:  noVehicles{},
		Locations: noLocations{},
		Log:       log,
	}, gateway.Options{InstanceID: "test"})
	return NewServer("0", gw, NewAuthMiddleware(tokens, log), checks, log), gw
}

func TestAuthMiddlewareRejects(t *testing.T) {
	s, _ := newTestServer(t, nil)
	router := s.Router()

	cases := map[string]*http.Request{
		"no token":      httptest.NewRequest(http.MethodGet, "/ws", nil),
		"unknown token": httptest.NewRequest(http.MethodGet, "/ws?token=nope", nil),
	}
	badHeader := httptest.NewRequest(http.MethodGet, "/ws", nil)
	badHeader.Header.Set("Authorization", "Basic abc")
	cases["non-bearer header"] = badHeader

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	req.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "q", bearerToken(req))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer  h ")
	assert.Equal(t, "h", bearerToken(req))
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, map[string]Pinger{"postgres": okPinger{}, "redis": okPinger{}})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	s, _ = newTestServer(t, map[string]Pinger{"redis": okPinger{err: errors.New("connection refused")}})
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "realtime_")
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) gateway.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var env gateway.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestWebsocketRoundTrip(t *testing.T) {
	s, gw := newTestServer(t, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	rider := dial(t, srv, "stu")
	require.NoError(t, rider.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"join_space","data":{"spaceId":"college-1"}}`)))
	require.Eventually(t, func() bool { return gw.Members("college-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	driver := dial(t, srv, "drv")
	env := readEvent(t, rider)
	assert.Equal(t, "driver_status_update", env.Event)
	assert.JSONEq(t, `{"entityId":"drv-1","status":"online"}`, string(env.Data))

	require.NoError(t, driver.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"update_location","data":{"vehicleId":"bus-1","spaceId":"college-1","location":{"lat":16.306,"lng":80.436}}}`)))
	env = readEvent(t, rider)
	assert.Equal(t, gateway.EventLocationUpdated, env.Event)
	assert.Contains(t, string(env.Data), `"vehicleId":"bus-1"`)

	require.NoError(t, driver.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	env = readEvent(t, driver)
	assert.Equal(t, gateway.EventError, env.Event)

	driver.Close()
	env = readEvent(t, rider)
	assert.Equal(t, "driver_status_update", env.Event)
	assert.JSONEq(t, `{"entityId":"drv-1","status":"offline"}`, string(env.Data))

	gw.Wait()
}
