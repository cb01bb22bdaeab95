package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studiolink/internal/core/domain"
	"studiolink/internal/infrastructure/monitoring"
	"studiolink/pkg/config"
	apperrors "studiolink/pkg/errors"
	"studiolink/pkg/logger"
)

type MockStudio struct {
	mock.Mock
}

func (m *MockStudio) Identity() domain.PeerIdentity {
	return m.Called().Get(0).(domain.PeerIdentity)
}

func (m *MockStudio) ConnectedPeers() []domain.PeerInfo {
	return m.Called().Get(0).([]domain.PeerInfo)
}

func (m *MockStudio) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockStudio) Slots() []domain.SlotView {
	return m.Called().Get(0).([]domain.SlotView)
}

func (m *MockStudio) SlotFrame(slotID string) (domain.Frame, error) {
	args := m.Called(slotID)
	return args.Get(0).(domain.Frame), args.Error(1)
}

func (m *MockStudio) SendFrame(payload []byte) error {
	return m.Called(payload).Error(0)
}

func (m *MockStudio) SendCommand(text string) error {
	return m.Called(text).Error(0)
}

func (m *MockStudio) Stats() domain.StudioStats {
	return m.Called().Get(0).(domain.StudioStats)
}

type invitedList []domain.PeerIdentity

func (l invitedList) Invited(context.Context) ([]domain.PeerIdentity, error) {
	return l, nil
}

type fixedValidator struct{}

func (fixedValidator) Enabled() bool { return true }

func (fixedValidator) ValidateAPIToken(token string) (string, error) {
	if token != "secret" {
		return "", errors.New("invalid token")
	}
	return "operator", nil
}

var (
	monitor = domain.PeerIdentity{DisplayName: "Monitor", Token: "aaaaaaaaaaaa"}
	camA    = domain.PeerIdentity{DisplayName: "Cam", Token: "bbbbbbbbbbbb"}
	camB    = domain.PeerIdentity{DisplayName: "Cam", Token: "cccccccccccc"}
)

func newTestRouter(t *testing.T, studio *MockStudio, invitations InvitationLister, health *monitoring.HealthChecker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	return NewRouter(RouterDeps{
		Config:   cfg,
		Logger:   logger.Nop(),
		Studio:   NewStudioHandler(studio, invitations, 16),
		Health:   health,
		Gatherer: prometheus.NewRegistry(),
	})
}

func do(router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestListPeers(t *testing.T) {
	studio := new(MockStudio)
	connectedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	studio.On("Identity").Return(monitor)
	studio.On("IsConnected").Return(true)
	studio.On("ConnectedPeers").Return([]domain.PeerInfo{
		{Identity: camA, State: domain.StateConnected, ConnectedAt: connectedAt},
	})

	router := newTestRouter(t, studio, invitedList{camB}, nil)
	w := do(router, http.MethodGet, "/api/v1/peers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, monitor.Key(), body["self"])
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, []interface{}{camB.Key()}, body["invited"])

	peers := body["peers"].([]interface{})
	require.Len(t, peers, 1)
	peer := peers[0].(map[string]interface{})
	assert.Equal(t, camA.Key(), peer["key"])
	assert.Equal(t, "Cam", peer["display_name"])
	assert.Equal(t, domain.StateConnected.String(), peer["state"])
}

func TestListSlots(t *testing.T) {
	studio := new(MockStudio)
	studio.On("Slots").Return([]domain.SlotView{
		{ID: camA.SlotID(), Label: "Cam", Peer: camA, Format: "png", Width: 4, Height: 3, Seq: 7},
		{ID: camB.SlotID(), Label: "Cam (2)", Peer: camB},
	})

	w := do(newTestRouter(t, studio, nil, nil), http.MethodGet, "/api/v1/slots", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, 2.0, body["count"])
	first := body["slots"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, camA.SlotID(), first["id"])
	assert.Equal(t, "png", first["format"])
	assert.Equal(t, 7.0, first["seq"])
}

func TestGetSlotFrame(t *testing.T) {
	studio := new(MockStudio)
	studio.On("SlotFrame", camA.SlotID()).Return(domain.Frame{Format: "jpeg", Data: []byte{0xff, 0xd8}}, nil)
	studio.On("SlotFrame", camB.SlotID()).Return(domain.Frame{}, nil)
	studio.On("SlotFrame", "missing").Return(domain.Frame{}, domain.ErrSlotNotFound)
	router := newTestRouter(t, studio, nil, nil)

	w := do(router, http.MethodGet, "/api/v1/slots/"+camA.SlotID()+"/frame", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8}, w.Body.Bytes())

	w = do(router, http.MethodGet, "/api/v1/slots/"+camB.SlotID()+"/frame", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/v1/slots/missing/frame", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperrors.ErrCodeNotFound), decode(t, w)["error"])
}

func TestPostCommand(t *testing.T) {
	studio := new(MockStudio)
	studio.On("SendCommand", domain.CommandStartRecording).Return(nil)
	studio.On("SendCommand", "bad\ncommand").Return(apperrors.NewInvalidInputError("invalid command"))
	studio.On("ConnectedPeers").Return([]domain.PeerInfo{{Identity: camA}})
	router := newTestRouter(t, studio, nil, nil)

	w := do(router, http.MethodPost, "/api/v1/commands", []byte(`{"command":" START_REC "}`))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, domain.CommandStartRecording, decode(t, w)["command"])

	w = do(router, http.MethodPost, "/api/v1/commands", []byte(`{"command":"bad\ncommand"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/commands", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/commands", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	studio.AssertNumberOfCalls(t, "SendCommand", 2)
}

func TestPostFrame(t *testing.T) {
	studio := new(MockStudio)
	studio.On("SendFrame", []byte("jpeg-bytes")).Return(nil)
	studio.On("SendFrame", []byte{}).Return(apperrors.NewInvalidInputError("empty frame"))
	studio.On("ConnectedPeers").Return([]domain.PeerInfo{})
	router := newTestRouter(t, studio, nil, nil)

	w := do(router, http.MethodPost, "/api/v1/frames", []byte("jpeg-bytes"))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 10.0, decode(t, w)["bytes"])

	w = do(router, http.MethodPost, "/api/v1/frames", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/frames", []byte(strings.Repeat("x", 17)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	studio.AssertNumberOfCalls(t, "SendFrame", 2)
}

func TestGetStats(t *testing.T) {
	studio := new(MockStudio)
	studio.On("Stats").Return(domain.StudioStats{
		ConnectedPeers: 1,
		Slots:          1,
		Recording:      true,
		Uptime:         90 * time.Second,
		Peers:          []domain.PeerStats{{Peer: camA, FramesIn: 12, CommandsOut: 1}},
	})

	w := do(newTestRouter(t, studio, nil, nil), http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["recording"])
	assert.Equal(t, "1m30s", body["uptime"])
	peer := body["peers"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, camA.Key(), peer["peer_key"])
	assert.Equal(t, 12.0, peer["frames_in"])
}

func TestAPIRequiresTokenWhenEnabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	studio := new(MockStudio)
	studio.On("Slots").Return([]domain.SlotView{})

	router := NewRouter(RouterDeps{
		Config:   config.DefaultConfig(),
		Logger:   logger.Nop(),
		Auth:     fixedValidator{},
		Studio:   NewStudioHandler(studio, nil, 16),
		Gatherer: prometheus.NewRegistry(),
	})

	w := do(router, http.MethodGet, "/api/v1/slots", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots", nil)
	req.Header.Set("Authorization", "Bearer secret")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	health := monitoring.NewHealthChecker()
	healthy := true
	health.AddCheck("session", func(context.Context) (bool, error) { return healthy, nil }, time.Second)
	router := newTestRouter(t, new(MockStudio), nil, health)

	w := do(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, monitoring.StatusHealthy, decode(t, w)["status"])

	healthy = false
	w = do(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
