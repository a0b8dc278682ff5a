// Package email delivers transactional mail through the custom send-email
// function, which renders the named template server-side.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gurbetci/authcore/core"
)

// Sender implements core.EmailSender over HTTP.
type Sender struct {
	endpoint string
	apiKey   string
	httpc    *http.Client
	log      *zap.Logger
}

func NewSender(endpoint, apiKey string) *Sender {
	return &Sender{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		log:      zap.NewNop(),
	}
}

// WithHTTPClient overrides the HTTP client (tests).
func (s *Sender) WithHTTPClient(h *http.Client) *Sender { s.httpc = h; return s }

// WithLogger sets the structured logger.
func (s *Sender) WithLogger(l *zap.Logger) *Sender {
	if l == nil {
		l = zap.NewNop()
	}
	s.log = l
	return s
}

type sendRequest struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

func (s *Sender) Send(ctx context.Context, to string, template core.EmailTemplate, data map[string]string) error {
	body, err := json.Marshal(sendRequest{To: to, Template: string(template), Data: data})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	s.log.Debug("email sent", zap.String("to", to), zap.String("template", string(template)))
	return nil
}
