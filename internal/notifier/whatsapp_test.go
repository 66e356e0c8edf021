package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, "v18.0", "12345", "test-token", 5*time.Second, zap.NewNop())
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+56972126016", "56972126016"},
		{"56972126016", "56972126016"},
		{" +56972126016 ", "56972126016"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in))
	}
}

func TestBuildPayloadTemplate(t *testing.T) {
	payload := BuildPayload(SendRequest{
		To:       "+56972126016",
		Template: "critical_alert",
		Params:   []string{"DiskFull", "critical"},
	})

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "56972126016", got["to"])
	assert.Equal(t, "template", got["type"])

	tpl := got["template"].(map[string]any)
	assert.Equal(t, "critical_alert", tpl["name"])
	assert.Equal(t, map[string]any{"code": "es"}, tpl["language"])

	components := tpl["components"].([]any)
	require.Len(t, components, 1)
	body := components[0].(map[string]any)
	assert.Equal(t, "body", body["type"])
	assert.Equal(t, []any{
		map[string]any{"type": "text", "text": "DiskFull"},
		map[string]any{"type": "text", "text": "critical"},
	}, body["parameters"])
}

func TestBuildPayloadFreeformText(t *testing.T) {
	payload := BuildPayload(SendRequest{
		To:   "56972126016",
		Body: "hello",
	})

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "text", got["type"])
	assert.Equal(t, map[string]any{"body": "hello"}, got["text"])
	assert.NotContains(t, got, "template")
}

func TestSendSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[{"id":"wamid.ABC123"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	id, err := client.Send(context.Background(), SendRequest{
		To:       "+56972126016",
		Template: "critical_alert",
		Params:   []string{"DiskFull", "critical", "disk at 95%", "db1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "wamid.ABC123", id)
	assert.Equal(t, "/v18.0/12345/messages", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Contains(t, string(gotBody), `"to":"56972126016"`)
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"(#131030) Recipient phone number not in allowed list","type":"OAuthException","code":131030}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Send(context.Background(), SendRequest{
		To:       "56972126016",
		Template: "critical_alert",
	})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 131030, apiErr.Code)
	assert.Equal(t, "OAuthException", apiErr.Type)
	assert.Contains(t, apiErr.Message, "not in allowed list")
	assert.Contains(t, apiErr.RawBody, "131030")
}

func TestSendSynthesizesIDOnShapeDrift(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messaging_product":"whatsapp"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	id, err := client.Send(context.Background(), SendRequest{
		To:   "56972126016",
		Body: "hello",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "local-"), "got id %q", id)
}

func TestSendTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Send(context.Background(), SendRequest{To: "56972126016", Body: "hello"})
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "transport errors are not APIErrors")
}
