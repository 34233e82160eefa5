package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPStatusThreshold = 300
	webhookTimeout             = 5 * time.Second

	EventRefreshReplay = "refresh_replay"
)

type ReplayAlert struct {
	Event      string    `json:"event"`
	AccountID  string    `json:"account_id"`
	SessionID  string    `json:"session_id"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

type ReplayNotifier interface {
	NotifyReplay(ctx context.Context, alert ReplayAlert)
}

type WebhookService struct {
	client     *http.Client
	log        *zap.SugaredLogger
	webhookURL string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewWebhookService(log *zap.SugaredLogger, webhookURL string) *WebhookService {
	return &WebhookService{
		client:     &http.Client{Timeout: webhookTimeout},
		log:        log,
		webhookURL: webhookURL,
	}
}

// NotifyReplay posts the alert in the background. The request outlives ctx's
// cancellation but keeps its values.
func (s *WebhookService) NotifyReplay(ctx context.Context, alert ReplayAlert) {
	if s.webhookURL == "" {
		return
	}
	if alert.Event == "" {
		alert.Event = EventRefreshReplay
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warnw("Webhook service closed, replay alert dropped",
			"accountID", alert.AccountID, "sessionID", alert.SessionID)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), webhookTimeout)
		defer cancel()

		payload, err := json.Marshal(alert)
		if err != nil {
			s.log.Errorw("failed to marshal webhook payload", "error", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(payload))
		if err != nil {
			s.log.Errorw("failed to create webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Errorw("failed to send webhook", "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= defaultHTTPStatusThreshold {
			s.log.Warnw("webhook returned non-2xx status", "status", resp.StatusCode)
		}
	}()
}

// Close stops accepting notifications and blocks until in-flight ones finish.
func (s *WebhookService) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}
