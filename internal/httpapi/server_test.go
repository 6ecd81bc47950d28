package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/myoctl/internal/gesture"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/session"
	"github.com/srg/myoctl/internal/testutils"
)

type mockController struct {
	mock.Mock
	state    session.State
	device   *session.DeviceHandle
	snapshot *session.AggregatedData
}

func (m *mockController) State() session.State { return m.state }

func (m *mockController) Mode() protocol.ModeConfiguration {
	return protocol.ModeConfiguration{EMG: protocol.EMGSendFiltered, IMU: protocol.IMUSendAll, Classifier: protocol.ClassifierEnabled}
}

func (m *mockController) Device() (session.DeviceHandle, bool) {
	if m.device == nil {
		return session.DeviceHandle{}, false
	}
	return *m.device, true
}

func (m *mockController) Info() session.DeviceInfo { return session.DeviceInfo{Name: "Myo"} }

func (m *mockController) Gesture() gesture.State {
	s := gesture.Unsynced()
	s.Synced = true
	s.Arm = protocol.ArmLeft
	s.Pose = protocol.PoseFist
	return s
}

func (m *mockController) Snapshot() (session.AggregatedData, bool) {
	if m.snapshot == nil {
		return session.AggregatedData{}, false
	}
	return *m.snapshot, true
}

func (m *mockController) Stats() session.Stats {
	return session.Stats{Processed: 42, Resyncs: 1}
}

func (m *mockController) Vibrate(ctx context.Context, t protocol.VibrationType) error {
	return m.Called(t).Error(0)
}

func (m *mockController) Vibrate2(ctx context.Context, cmd protocol.Vibrate2) error {
	return m.Called(cmd).Error(0)
}

func (m *mockController) SetLEDs(ctx context.Context, cmd protocol.SetLEDs) error {
	return m.Called(cmd).Error(0)
}

func (m *mockController) Resync(ctx context.Context) error {
	return m.Called().Error(0)
}

type ServerTestSuite struct {
	suite.Suite
	ctrl   *mockController
	engine *gin.Engine
}

func (suite *ServerTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (suite *ServerTestSuite) SetupTest() {
	suite.ctrl = &mockController{state: session.Streaming}
	logger, _ := test.NewNullLogger()
	suite.engine = NewServer(suite.ctrl, WithLogger(logger), WithVersion("test")).Engine()
}

func (suite *ServerTestSuite) do(method, path string, body any) (int, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		suite.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	suite.engine.ServeHTTP(w, req)

	var resp map[string]any
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return w.Code, resp
}

func (suite *ServerTestSuite) TestGetState() {
	// GOAL: Verify the state endpoint reports session, device and gesture by name

	suite.ctrl.device = &session.DeviceHandle{Address: "aa:bb", Name: "Myo", RSSI: -50}

	code, resp := suite.do(http.MethodGet, "/api/v1/state", nil)
	suite.Equal(http.StatusOK, code)

	body, err := json.Marshal(resp)
	suite.Require().NoError(err)
	testutils.NewJSONAsserter(suite.T()).Assert(string(body), `{
		"status": "success",
		"data": {
			"state": "streaming",
			"device": {"address": "aa:bb", "name": "Myo", "rssi": -50},
			"info": {"name": "Myo"},
			"mode": {"emg": "filtered", "imu": "all", "classifier": "enabled"},
			"gesture": {
				"synced": true,
				"arm": "left",
				"x_direction": "unknown",
				"pose": "fist",
				"reference_orientation": "<<PRESENCE>>"
			}
		}
	}`)
}

func (suite *ServerTestSuite) TestGetStateWithoutDevice() {
	suite.ctrl.state = session.Disconnected

	code, resp := suite.do(http.MethodGet, "/api/v1/state", nil)
	suite.Equal(http.StatusOK, code)
	data := resp["data"].(map[string]any)
	suite.Equal("disconnected", data["state"])
	suite.NotContains(data, "device", "MUST omit the device when disconnected")
}

func (suite *ServerTestSuite) TestGetLatest() {
	// GOAL: Verify latest returns 404 until the first frame, then the snapshot

	code, resp := suite.do(http.MethodGet, "/api/v1/latest", nil)
	suite.Equal(http.StatusNotFound, code)
	suite.Equal("error", resp["status"])

	fv := protocol.FVFrame{Values: [8]uint16{1, 2, 3, 4, 5, 6, 7, 8}}
	suite.ctrl.snapshot = &session.AggregatedData{At: time.Now(), FV: &fv, Gesture: gesture.Unsynced()}

	code, resp = suite.do(http.MethodGet, "/api/v1/latest", nil)
	suite.Equal(http.StatusOK, code)
	data := resp["data"].(map[string]any)
	suite.Len(data["fv"].(map[string]any)["fv"], 8)
	suite.NotContains(data, "emg")
}

func (suite *ServerTestSuite) TestGetStats() {
	code, resp := suite.do(http.MethodGet, "/api/v1/stats", nil)
	suite.Equal(http.StatusOK, code)
	data := resp["data"].(map[string]any)
	suite.EqualValues(42, data["processed"])
	suite.EqualValues(1, data["resyncs"])
	suite.Equal("test", data["version"])
}

func (suite *ServerTestSuite) TestVibrateForms() {
	// GOAL: Verify each vibrate body form maps to the matching command

	suite.Run("named pattern", func() {
		suite.ctrl.On("Vibrate", protocol.VibrationMedium).Return(nil).Once()
		code, _ := suite.do(http.MethodPost, "/api/v1/vibrate", VibrateRequest{Type: "medium"})
		suite.Equal(http.StatusOK, code)
	})

	suite.Run("duration defaults to full strength", func() {
		want, _ := protocol.VibrateFor(300, -1)
		suite.ctrl.On("Vibrate2", want).Return(nil).Once()
		code, _ := suite.do(http.MethodPost, "/api/v1/vibrate", VibrateRequest{DurationMs: 300})
		suite.Equal(http.StatusOK, code)
	})

	suite.Run("custom steps", func() {
		steps := []protocol.VibrationStep{{DurationMs: 100, Strength: 50}, {DurationMs: 200, Strength: 0}}
		want, _ := protocol.NewVibrate2(steps...)
		suite.ctrl.On("Vibrate2", want).Return(nil).Once()
		code, _ := suite.do(http.MethodPost, "/api/v1/vibrate", VibrateRequest{Steps: steps})
		suite.Equal(http.StatusOK, code)
	})

	suite.ctrl.AssertExpectations(suite.T())
}

func (suite *ServerTestSuite) TestVibrateRejectsBadInput() {
	// GOAL: Verify invalid bodies are rejected with 400 without reaching the device

	tests := []struct {
		name string
		body any
	}{
		{"empty", map[string]any{}},
		{"unknown pattern", VibrateRequest{Type: "buzz"}},
		{"strength out of range", map[string]any{"duration_ms": 100, "strength": 300}},
		{"too many steps", VibrateRequest{Steps: make([]protocol.VibrationStep, 7)}},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			code, resp := suite.do(http.MethodPost, "/api/v1/vibrate", tt.body)
			suite.Equal(http.StatusBadRequest, code)
			suite.Equal("error", resp["status"])
		})
	}
	suite.ctrl.AssertNotCalled(suite.T(), "Vibrate", mock.Anything)
	suite.ctrl.AssertNotCalled(suite.T(), "Vibrate2", mock.Anything)
}

func (suite *ServerTestSuite) TestSetLEDs() {
	// GOAL: Verify logo-only and logo+line bodies, and component validation

	same, _ := protocol.NewSetLEDs(255, 0, 0)
	split, _ := protocol.NewSetLEDs(0, 0, 255, 0, 255, 0)
	suite.ctrl.On("SetLEDs", same).Return(nil).Once()
	suite.ctrl.On("SetLEDs", split).Return(nil).Once()

	code, _ := suite.do(http.MethodPost, "/api/v1/leds", LEDRequest{Logo: []int{255, 0, 0}})
	suite.Equal(http.StatusOK, code)
	code, _ = suite.do(http.MethodPost, "/api/v1/leds", LEDRequest{Logo: []int{0, 0, 255}, Line: []int{0, 255, 0}})
	suite.Equal(http.StatusOK, code)

	code, resp := suite.do(http.MethodPost, "/api/v1/leds", LEDRequest{Logo: []int{256, 0, 0}})
	suite.Equal(http.StatusBadRequest, code)
	suite.Contains(resp["error"], "logo_r")

	code, _ = suite.do(http.MethodPost, "/api/v1/leds", map[string]any{"logo": []int{1, 2}})
	suite.Equal(http.StatusBadRequest, code)

	suite.ctrl.AssertExpectations(suite.T())
}

func (suite *ServerTestSuite) TestCommandErrorStatus() {
	// GOAL: Verify session errors map to HTTP status codes

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not streaming", session.ErrInvalidState, http.StatusConflict},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"link lost", session.ErrLinkLost, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.ctrl.On("Resync").Return(tt.err).Once()
			code, resp := suite.do(http.MethodPost, "/api/v1/resync", nil)
			suite.Equal(tt.want, code)
			suite.NotEmpty(resp["error"])
		})
	}

	suite.ctrl.On("Resync").Return(nil).Once()
	code, resp := suite.do(http.MethodPost, "/api/v1/resync", nil)
	suite.Equal(http.StatusOK, code)
	suite.Equal("resync sent", resp["message"])
}

func (suite *ServerTestSuite) TestCORSPreflight() {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/vibrate", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	suite.engine.ServeHTTP(w, req)

	suite.Equal(http.StatusNoContent, w.Code)
	suite.Equal("*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
