// Package messaging adapts the external messaging gateway: outbound texts, media download
// and inbound webhook payloads.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/config"
)

var ErrMediaTooLarge = errors.New("media exceeds size limit")

const maxMediaBytes = 16 << 20

type Gateway struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewGateway(cfg config.GatewayConfig) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

type outbound struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// SendText posts a text message for delivery. Delivery itself is the gateway's business.
func (g *Gateway) SendText(ctx context.Context, phone, text string) error {
	b, err := json.Marshal(outbound{Phone: phone, Message: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway send: http %d", resp.StatusCode)
	}
	return nil
}

// Fetch downloads inbound media such as voice notes.
func (g *Gateway) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if g.token != "" && strings.HasPrefix(url, g.baseURL) {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("media fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media fetch: http %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(b) > maxMediaBytes {
		return nil, "", ErrMediaTooLarge
	}
	return b, resp.Header.Get("Content-Type"), nil
}
