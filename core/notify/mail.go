// Package notify delivers the final determination email through an HTTP mail
// provider and records the send on the incident.
package notify

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

	"fleetdesk/config"
)

type Email struct {
	To       string `json:"to"`
	ToName   string `json:"to_name,omitempty"`
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

type MailSender interface {
	Send(ctx context.Context, email Email) error
}

type HTTPMailSender struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPMailSender(cfg config.MailConfig) *HTTPMailSender {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPMailSender{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
	}
}

func (s *HTTPMailSender) Send(ctx context.Context, email Email) error {
	if s.baseURL == "" {
		return errors.New("mail base url missing")
	}
	if strings.TrimSpace(email.To) == "" {
		return errors.New("recipient missing")
	}
	raw, _ := json.Marshal(email)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/send", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("mail api status %d", resp.StatusCode)
}
