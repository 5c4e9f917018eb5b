// internal/transport/gateway.go
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// HTTPGateway talks to a WhatsApp gateway service over REST. Every request
// carries its own timeout, independent of any queue-level delay.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

func NewHTTPGateway(baseURL, token string, timeout time.Duration, log zerolog.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "gateway").Logger(),
	}
}

type sendRequest struct {
	Phone     string `json:"phone"`
	Message   string `json:"message,omitempty"`
	Caption   string `json:"caption,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

type sendResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Results struct {
		MessageID string `json:"message_id"`
	} `json:"results"`
}

func (g *HTTPGateway) SendText(ctx context.Context, to, body string) (string, error) {
	return g.post(ctx, "sendText", "/send/message", sendRequest{Phone: to, Message: body})
}

func (g *HTTPGateway) SendMedia(ctx context.Context, to, caption, mediaURL string, mediaType model.MediaType) (string, error) {
	if !mediaType.Valid() {
		return "", NewPermanent("sendMedia", fmt.Errorf("unsupported media type %q", mediaType))
	}
	return g.post(ctx, "sendMedia", "/send/"+string(mediaType), sendRequest{
		Phone:     to,
		Caption:   caption,
		MediaURL:  mediaURL,
		MediaType: string(mediaType),
	})
}

func (g *HTTPGateway) CheckConnection(ctx context.Context) (Connection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/app/status", nil)
	if err != nil {
		return Connection{}, err
	}
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return Connection{}, NewTransient("checkConnection", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Connection{Connected: false, State: resp.Status}, nil
	}
	var out struct {
		Results Connection `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Connection{}, NewTransient("checkConnection", err)
	}
	return out.Results, nil
}

func (g *HTTPGateway) post(ctx context.Context, op, path string, payload sendRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", NewPermanent(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", NewPermanent(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		// Network errors and client timeouts are worth retrying.
		return "", NewTransient(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return "", NewTransient(op, fmt.Errorf("gateway returned %s", resp.Status))
	case resp.StatusCode >= 400:
		return "", NewPermanent(op, fmt.Errorf("gateway rejected request: %s", resp.Status))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", NewTransient(op, err)
	}

	g.log.Debug().
		Str("op", op).
		Str("provider_id", out.Results.MessageID).
		Msg("message accepted by gateway")
	return out.Results.MessageID, nil
}

func (g *HTTPGateway) authorize(req *http.Request) {
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
}

var _ Transport = (*HTTPGateway)(nil)
