package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model"
)

const (
	datastreamPath      = "/datastreams/token"
	datastreamBatchPath = "/datastreams/batch"
)

// HTTPSender posts datastreams to the backend REST API with the device token.
type HTTPSender struct {
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

var _ BatchSender = (*HTTPSender)(nil)

func NewHTTPSender(base string, timeout time.Duration, cb *gobreaker.CircuitBreaker, log zerolog.Logger) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		base:    strings.TrimRight(strings.TrimSpace(base), "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
		log:     log,
	}
}

func (s *HTTPSender) Send(ctx context.Context, dc model.DeviceContext, p model.TelemetryPayload) error {
	return s.post(ctx, datastreamPath, dc.DeviceToken, p)
}

func (s *HTTPSender) SendBatch(ctx context.Context, dc model.DeviceContext, ps []model.TelemetryPayload) error {
	body := struct {
		DataStreams []model.TelemetryPayload `json:"dataStreams"`
	}{DataStreams: ps}
	return s.post(ctx, datastreamBatchPath, dc.DeviceToken, body)
}

func (s *HTTPSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSender) post(ctx context.Context, path, token string, body any) error {
	if token == "" {
		return fmt.Errorf("%s: missing device token", path)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", path, err)
	}
	call := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request error: %w", path, err)
		}
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s upstream status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		return nil, nil
	}
	if s.breaker == nil {
		_, err = call()
		return err
	}
	_, err = s.breaker.Execute(call)
	return err
}
