// Package notifier performs the outbound WhatsApp Cloud API call. It is
// the pipeline's only channel to humans, so every request and response,
// including failures, is logged with enough structure to diagnose
// delivery problems after the fact.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultLanguage is the language code used when the caller leaves it
// empty.
const DefaultLanguage = "es"

// SendRequest describes one outbound message. When Template is set the
// message is a provider-approved template invocation with positional
// Params; otherwise Body is sent as freeform text.
type SendRequest struct {
	To       string
	Template string
	Language string
	Params   []string
	Body     string
}

// Sender is the transport surface the processor depends on.
type Sender interface {
	// Send performs the outbound call and returns the provider's
	// message identifier.
	Send(ctx context.Context, req SendRequest) (string, error)
}

// APIError carries the provider's structured error verbatim so the audit
// trail keeps the original diagnostics.
type APIError struct {
	StatusCode int
	Type       string
	Code       int
	Message    string
	RawBody    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error (status %d, code %d, type %s): %s",
		e.StatusCode, e.Code, e.Type, e.Message)
}

// Client talks to the WhatsApp Cloud API messages endpoint.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiVersion    string
	phoneNumberID string
	token         string
	logger        *zap.Logger
}

func NewClient(baseURL, apiVersion, phoneNumberID, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		// The provider call is the only blocking I/O in the processing
		// path; the timeout bounds how long a stuck call can hold a
		// worker.
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		apiVersion:    apiVersion,
		phoneNumberID: phoneNumberID,
		token:         token,
		logger:        logger,
	}
}

// Wire payload types for the messages endpoint.

type templatePayload struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         templateSection `json:"template"`
}

type templateSection struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string          `json:"type"`
	Parameters []bodyParameter `json:"parameters"`
}

type bodyParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type textPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// BuildPayload constructs the provider payload for a request. Exposed for
// the payload-shape tests; Send uses it internally.
func BuildPayload(req SendRequest) any {
	to := NormalizePhone(req.To)
	if req.Template == "" {
		return textPayload{
			MessagingProduct: "whatsapp",
			To:               to,
			Type:             "text",
			Text:             textBody{Body: req.Body},
		}
	}

	language := req.Language
	if language == "" {
		language = DefaultLanguage
	}

	// Positional parameter contract: count and order must match the
	// approved template exactly.
	params := make([]bodyParameter, 0, len(req.Params))
	for _, p := range req.Params {
		params = append(params, bodyParameter{Type: "text", Text: p})
	}

	payload := templatePayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: templateSection{
			Name:     req.Template,
			Language: templateLanguage{Code: language},
		},
	}
	if len(params) > 0 {
		payload.Template.Components = []templateComponent{
			{Type: "body", Parameters: params},
		}
	}
	return payload
}

// NormalizePhone strips the leading "+" the provider rejects.
func NormalizePhone(phone string) string {
	return strings.TrimPrefix(strings.TrimSpace(phone), "+")
}

func (c *Client) Send(ctx context.Context, req SendRequest) (string, error) {
	payload := BuildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.apiVersion, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("WhatsApp request failed",
			zap.Error(err),
			zap.String("recipient", NormalizePhone(req.To)),
			zap.String("template", req.Template),
		)
		return "", fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var parsed sendResponse
	parseErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RawBody:    string(respBody),
		}
		if parseErr == nil && parsed.Error != nil {
			apiErr.Type = parsed.Error.Type
			apiErr.Code = parsed.Error.Code
			apiErr.Message = parsed.Error.Message
		} else {
			apiErr.Message = string(respBody)
		}
		c.logger.Error("WhatsApp send rejected",
			zap.String("recipient", NormalizePhone(req.To)),
			zap.String("template", req.Template),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(respBody)),
		)
		return "", apiErr
	}

	messageID := ""
	if parseErr == nil && len(parsed.Messages) > 0 {
		messageID = parsed.Messages[0].ID
	}
	if messageID == "" {
		// The provider said 2xx but the response shape drifted; keep the
		// "it probably sent" signal with a local placeholder id.
		messageID = "local-" + uuid.NewString()
		c.logger.Warn("WhatsApp response missing message id, synthesized placeholder",
			zap.String("recipient", NormalizePhone(req.To)),
			zap.String("message_id", messageID),
			zap.String("response", string(respBody)),
		)
	}

	c.logger.Info("WhatsApp message sent",
		zap.String("recipient", NormalizePhone(req.To)),
		zap.String("template", req.Template),
		zap.Int("status_code", resp.StatusCode),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}
