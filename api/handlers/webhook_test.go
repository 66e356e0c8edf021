package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"alert-notifier/internal/models"
	"alert-notifier/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type MockWebhookStore struct {
	mock.Mock
}

func (m *MockWebhookStore) LogIncoming(ctx context.Context, rec *models.WebhookRecord) error {
	args := m.Called(ctx, rec)
	if args.Error(0) == nil && rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	return args.Error(0)
}

func (m *MockWebhookStore) MarkProcessing(ctx context.Context, rec *models.WebhookRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockWebhookStore) MarkCompleted(ctx context.Context, rec *models.WebhookRecord, result *models.ProcessingResult) error {
	args := m.Called(ctx, rec, result)
	return args.Error(0)
}

func (m *MockWebhookStore) MarkFailed(ctx context.Context, rec *models.WebhookRecord, reason string, partial *models.ProcessingResult) error {
	args := m.Called(ctx, rec, reason, partial)
	return args.Error(0)
}

func (m *MockWebhookStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.WebhookRecord, error) {
	args := m.Called(ctx, id)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.WebhookRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

// failingQueue rejects every enqueue.
type failingQueue struct {
	queue.Queue
}

func (failingQueue) Enqueue(context.Context, string, models.Source) error {
	return assert.AnError
}

func postWebhook(handler *WebhookHandler, source, body string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/"+source, bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "source", Value: source}}

	handler.HandleIncoming(c)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestHandleIncomingAlertWebhook(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := new(MockWebhookStore)
	q := queue.NewMemoryQueue()
	handler := NewWebhookHandler(store, q, "verify-secret", zap.NewNop())

	var saved *models.WebhookRecord
	store.On("LogIncoming", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*models.WebhookRecord)
	}).Return(nil)

	body := `{"alerts":[{"status":"firing","labels":{"alertname":"DiskFull","severity":"critical"}},{"status":"resolved","labels":{}}]}`
	w, resp := postWebhook(handler, "alertmanager", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, float64(2), resp["alerts_count"])
	assert.NotEmpty(t, resp["webhook_id"])

	require.NotNil(t, saved)
	assert.Equal(t, models.SourceAlertmanager, saved.Source)
	assert.Equal(t, models.StatusReceived, saved.ProcessingStatus)
	assert.Equal(t, body, saved.RawBody)
	assert.Equal(t, 1, q.Depth(), "accepted webhook must be enqueued")
}

func TestHandleIncomingInvalidJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := new(MockWebhookStore)
	handler := NewWebhookHandler(store, queue.NewMemoryQueue(), "", zap.NewNop())

	var saved *models.WebhookRecord
	store.On("LogIncoming", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*models.WebhookRecord)
	}).Return(nil)

	w, resp := postWebhook(handler, "grafana", `{"alerts": [invalid`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid JSON payload", resp["message"])
	assert.NotEmpty(t, resp["webhook_id"], "rejected payloads still get an audit id")

	// The unparsable body is preserved verbatim on a failed record.
	require.NotNil(t, saved)
	assert.Equal(t, `{"alerts": [invalid`, saved.RawBody)
	assert.Equal(t, models.StatusFailed, saved.ProcessingStatus)
}

func TestHandleIncomingMissingAlertsArray(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := new(MockWebhookStore)
	q := queue.NewMemoryQueue()
	handler := NewWebhookHandler(store, q, "", zap.NewNop())

	store.On("LogIncoming", mock.Anything, mock.Anything).Return(nil)

	w, resp := postWebhook(handler, "prometheus", `{"status":"firing"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Payload must contain alerts array", resp["message"])
	assert.Equal(t, 0, q.Depth(), "rejected webhooks are not queued")
}

func TestHandleIncomingUnknownSourceIsAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := new(MockWebhookStore)
	q := queue.NewMemoryQueue()
	handler := NewWebhookHandler(store, q, "", zap.NewNop())

	var saved *models.WebhookRecord
	store.On("LogIncoming", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*models.WebhookRecord)
	}).Return(nil)

	w, resp := postWebhook(handler, "shopify", `{"order_id": 42}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "queued", resp["status"])
	assert.NotContains(t, resp, "alerts_count")
	require.NotNil(t, saved)
	assert.Equal(t, models.SourceUnknown, saved.Source)
	assert.Equal(t, 1, q.Depth())
}

func TestHandleIncomingStoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := new(MockWebhookStore)
	handler := NewWebhookHandler(store, queue.NewMemoryQueue(), "", zap.NewNop())

	store.On("LogIncoming", mock.Anything, mock.Anything).Return(assert.AnError)

	w, _ := postWebhook(handler, "alertmanager", `{"alerts":[]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleIncomingEnqueueFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := new(MockWebhookStore)
	handler := NewWebhookHandler(store, failingQueue{}, "", zap.NewNop())

	var saved *models.WebhookRecord
	store.On("LogIncoming", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*models.WebhookRecord)
	}).Return(nil)

	w, resp := postWebhook(handler, "alertmanager", `{"alerts":[]}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, resp["webhook_id"])
	// The audit record survives the enqueue failure in received state.
	require.NotNil(t, saved)
	assert.Equal(t, models.StatusReceived, saved.ProcessingStatus)
}

func TestHandleProviderCallbackStatusDelivery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := new(MockWebhookStore)
	q := queue.NewMemoryQueue()
	handler := NewWebhookHandler(store, q, "", zap.NewNop())

	var saved *models.WebhookRecord
	store.On("LogIncoming", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*models.WebhookRecord)
	}).Return(nil)

	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.OUT1","status":"delivered"}]}}]}]}`
	w, resp := postWebhook(handler, "whatsapp", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "queued", resp["status"])

	require.NotNil(t, saved)
	assert.Equal(t, models.SourceWhatsAppStatus, saved.Source)
	assert.Equal(t, "wamid.OUT1", saved.ExternalMessageID)
	assert.Equal(t, 1, q.Depth())
}

func TestHandleProviderCallbackInboundMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := new(MockWebhookStore)
	handler := NewWebhookHandler(store, queue.NewMemoryQueue(), "", zap.NewNop())

	var saved *models.WebhookRecord
	store.On("LogIncoming", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*models.WebhookRecord)
	}).Return(nil)

	body := `{"entry":[{"changes":[{"field":"messages","value":{"messages":[{"from":"56972126016","id":"wamid.IN1","type":"text","text":{"body":"ok"}}]}}]}]}`
	w, _ := postWebhook(handler, "whatsapp", body)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, saved)
	assert.Equal(t, models.SourceWhatsAppMessage, saved.Source)
}

func TestHandleVerify(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		source     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Valid handshake",
			source:     "whatsapp",
			query:      "hub.mode=subscribe&hub.verify_token=verify-secret&hub.challenge=challenge-123",
			wantStatus: http.StatusOK,
			wantBody:   "challenge-123",
		},
		{
			name:       "Wrong token",
			source:     "whatsapp",
			query:      "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=challenge-123",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "Wrong mode",
			source:     "whatsapp",
			query:      "hub.mode=unsubscribe&hub.verify_token=verify-secret&hub.challenge=challenge-123",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "Non-provider source",
			source:     "alertmanager",
			query:      "hub.mode=subscribe&hub.verify_token=verify-secret",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewWebhookHandler(new(MockWebhookStore), queue.NewMemoryQueue(), "verify-secret", zap.NewNop())

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/webhooks/"+tt.source+"?"+tt.query, nil)
			c.Params = gin.Params{{Key: "source", Value: tt.source}}

			handler.HandleVerify(c)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}
