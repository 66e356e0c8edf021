package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"alert-notifier/internal/dedup"
	"alert-notifier/internal/messaging"
	"alert-notifier/internal/models"
	"alert-notifier/internal/notifier"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) ListOverLossThreshold(ctx context.Context, threshold float64) ([]models.Device, error) {
	args := m.Called(ctx, threshold)
	if devices := args.Get(0); devices != nil {
		return devices.([]models.Device), args.Error(1)
	}
	return nil, args.Error(1)
}

type stubDirectory struct {
	group *messaging.RecipientGroup
	tpl   *messaging.MessageTemplate
}

func (d *stubDirectory) GroupByName(_ context.Context, name string) (*messaging.RecipientGroup, error) {
	if d.group == nil {
		return nil, fmt.Errorf("recipient group %q: %w", name, messaging.ErrNotFound)
	}
	return d.group, nil
}

func (d *stubDirectory) TemplateByName(_ context.Context, name string) (*messaging.MessageTemplate, error) {
	if d.tpl == nil {
		return nil, fmt.Errorf("template %q: %w", name, messaging.ErrNotFound)
	}
	return d.tpl, nil
}

type stubMessageStore struct{}

func (stubMessageStore) Insert(context.Context, *messaging.Message) error { return nil }
func (stubMessageStore) FindByProviderMessageID(context.Context, string) (*messaging.Message, error) {
	return nil, messaging.ErrNotFound
}
func (stubMessageStore) UpdateStatus(context.Context, *messaging.Message, messaging.MessageStatus, time.Time) error {
	return nil
}

type recordingSender struct {
	mu       sync.Mutex
	requests []notifier.SendRequest
}

func (s *recordingSender) Send(_ context.Context, req notifier.SendRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return fmt.Sprintf("wamid.%d", len(s.requests)), nil
}

type alertCheckFixture struct {
	handler *AlertCheckHandler
	devices *MockDeviceStore
	sender  *recordingSender
}

func newAlertCheckFixture(t *testing.T) *alertCheckFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gate := dedup.NewGate(dedup.NewRedisStore(client), time.Hour, zap.NewNop())

	devices := new(MockDeviceStore)
	sender := &recordingSender{}
	directory := &stubDirectory{
		group: &messaging.RecipientGroup{
			Name:       "operations",
			Recipients: []messaging.Recipient{{Phone: "56972126016", Active: true}},
		},
		tpl: &messaging.MessageTemplate{Name: "critical_alert", Language: "es", ParamCount: 4, Active: true},
	}
	service := messaging.NewService(stubMessageStore{}, directory, sender, zap.NewNop())

	handler := NewAlertCheckHandler(devices, gate, service, AlertCheckConfig{
		LossThresholdPct: 20,
		RecipientGroup:   "operations",
		Template:         "critical_alert",
	}, zap.NewNop())

	return &alertCheckFixture{handler: handler, devices: devices, sender: sender}
}

func (f *alertCheckFixture) run() (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/alerts/device-loss", nil)

	f.handler.HandleDeviceLossCheck(c)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func lossyDevices(codes ...string) []models.Device {
	devices := make([]models.Device, 0, len(codes))
	for _, code := range codes {
		devices = append(devices, models.Device{Code: code, PacketLossPct: 42})
	}
	return devices
}

func TestDeviceLossCheckNoDevicesAffected(t *testing.T) {
	f := newAlertCheckFixture(t)
	f.devices.On("ListOverLossThreshold", mock.Anything, 20.0).Return([]models.Device{}, nil)

	w, resp := f.run()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(0), resp["affected"])
	assert.Empty(t, f.sender.requests)
}

func TestDeviceLossCheckNotifiesOnNewState(t *testing.T) {
	f := newAlertCheckFixture(t)
	f.devices.On("ListOverLossThreshold", mock.Anything, 20.0).Return(lossyDevices("DEV-002", "DEV-007"), nil)

	w, resp := f.run()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alerted", resp["status"])
	assert.Equal(t, float64(2), resp["affected"])
	assert.Equal(t, float64(1), resp["notified"])

	require.Len(t, f.sender.requests, 1)
	req := f.sender.requests[0]
	assert.Equal(t, "critical_alert", req.Template)
	require.Len(t, req.Params, 4)
	assert.Equal(t, "DeviceLossAlert", req.Params[0])
	assert.Equal(t, "critical", req.Params[1])
	assert.Equal(t, "DEV-002, DEV-007", req.Params[2])
	assert.Equal(t, "loss > 20.0%", req.Params[3])
}

func TestDeviceLossCheckSuppressesUnchangedState(t *testing.T) {
	f := newAlertCheckFixture(t)
	f.devices.On("ListOverLossThreshold", mock.Anything, 20.0).Return(lossyDevices("DEV-002", "DEV-007"), nil)

	_, first := f.run()
	require.Equal(t, "alerted", first["status"])

	_, second := f.run()
	assert.Equal(t, "unchanged", second["status"])
	assert.Len(t, f.sender.requests, 1, "unchanged state must not re-notify")
}

func TestDeviceLossCheckReNotifiesOnChangedSet(t *testing.T) {
	f := newAlertCheckFixture(t)
	f.devices.On("ListOverLossThreshold", mock.Anything, 20.0).Return(lossyDevices("DEV-002"), nil).Once()
	f.devices.On("ListOverLossThreshold", mock.Anything, 20.0).Return(lossyDevices("DEV-002", "DEV-009"), nil).Once()

	_, first := f.run()
	require.Equal(t, "alerted", first["status"])

	_, second := f.run()
	assert.Equal(t, "alerted", second["status"])
	assert.Len(t, f.sender.requests, 2)
}

func TestDeviceLossCheckScanFailure(t *testing.T) {
	f := newAlertCheckFixture(t)
	f.devices.On("ListOverLossThreshold", mock.Anything, 20.0).Return(nil, assert.AnError)

	w, _ := f.run()
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, f.sender.requests)
}

func TestSummarizeDevicesTruncates(t *testing.T) {
	codes := make([]string, 100)
	for i := range codes {
		codes[i] = fmt.Sprintf("DEV-%03d", i)
	}

	summary := summarizeDevices(codes)
	assert.LessOrEqual(t, len(summary), 230)
	assert.Contains(t, summary, "(100 devices)")

	short := summarizeDevices([]string{"DEV-001"})
	assert.Equal(t, "DEV-001", short)
}
