package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

type Options struct {
	BaseURL  string
	Email    string
	Password string
	Timeout  time.Duration

	MaxRetries      int           // default 5
	InitialInterval time.Duration // default 500ms
	Breaker         *gobreaker.CircuitBreaker
	Logger          zerolog.Logger
}

// Client obtains the user token and per-device credentials from the backend.
type Client struct {
	base     string
	email    string
	password string
	http     *http.Client
	retries  int
	initial  time.Duration
	cb       *gobreaker.CircuitBreaker
	log      zerolog.Logger
}

func NewClient(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	return &Client{
		base:     strings.TrimRight(strings.TrimSpace(o.BaseURL), "/"),
		email:    o.Email,
		password: o.Password,
		http:     &http.Client{Timeout: o.Timeout},
		retries:  o.MaxRetries,
		initial:  o.InitialInterval,
		cb:       o.Breaker,
		log:      o.Logger,
	}
}

type envelope struct {
	Data struct {
		Token      string `json:"token"`
		DeviceUUID string `json:"deviceUuid"`
		UUID       string `json:"uuid"`
		Device     *struct {
			UUID string `json:"uuid"`
		} `json:"device"`
	} `json:"data"`
}

// Login returns the user token.
func (c *Client) Login(ctx context.Context) (string, error) {
	body := map[string]string{"email": c.email, "password": c.password}
	env, err := c.post(ctx, "/auth/login", "", body)
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	if env.Data.Token == "" {
		return "", errors.New("token missing in login response")
	}
	c.log.Info().Msg("auth: logged in")
	return env.Data.Token, nil
}

// DeviceToken exchanges the user token for the credentials of one sensor.
func (c *Client) DeviceToken(ctx context.Context, userToken, sensorID string) (messages.DeviceContext, error) {
	body := map[string]any{"sensorId": sensorIDValue(sensorID)}
	env, err := c.post(ctx, "/device-tokens", userToken, body)
	if err != nil {
		return messages.DeviceContext{}, fmt.Errorf("device token request failed for sensor %s: %w", sensorID, err)
	}
	uuid := firstNonEmpty(env.Data.DeviceUUID, env.Data.UUID)
	if uuid == "" && env.Data.Device != nil {
		uuid = env.Data.Device.UUID
	}
	if uuid == "" {
		return messages.DeviceContext{}, fmt.Errorf("device uuid missing in device-token response for sensor %s", sensorID)
	}
	if env.Data.Token == "" {
		return messages.DeviceContext{}, fmt.Errorf("device token missing in response for sensor %s", sensorID)
	}
	return messages.DeviceContext{SensorID: sensorID, DeviceToken: env.Data.Token, DeviceUUID: uuid}, nil
}

// Contexts logs in once and resolves every sensor; the first failure aborts.
func Contexts(ctx context.Context, c *Client, sensorIDs []string) ([]messages.DeviceContext, error) {
	userToken, err := c.Login(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]messages.DeviceContext, 0, len(sensorIDs))
	for _, id := range sensorIDs {
		dc, err := c.DeviceToken(ctx, userToken, id)
		if err != nil {
			return nil, err
		}
		c.log.Info().Str("sensor_id", id).Str("device_uuid", dc.DeviceUUID).Msg("auth: device context ready")
		out = append(out, dc)
	}
	return out, nil
}

// OfflineContexts builds placeholder contexts for senders that need no backend.
func OfflineContexts(sensorIDs []string) []messages.DeviceContext {
	out := make([]messages.DeviceContext, 0, len(sensorIDs))
	for _, id := range sensorIDs {
		out = append(out, messages.DeviceContext{SensorID: id, DeviceUUID: "sensor-" + id})
	}
	return out
}

// ===== Helpers =====

func (c *Client) post(ctx context.Context, path, bearer string, body any) (envelope, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return envelope{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initial
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retries-1)), ctx)

	var out envelope
	op := func() error {
		env, err := c.do(ctx, path, bearer, b)
		if err != nil {
			return err
		}
		out = env
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Str("path", path).Dur("retry_in", wait).Msg("auth: request failed")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return envelope{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, path, bearer string, body []byte) (envelope, error) {
	call := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
			// 4xx non cambia riprovando
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode error: %w", err))
		}
		return env, nil
	}

	var (
		v   interface{}
		err error
	)
	if c.cb != nil {
		v, err = c.cb.Execute(call)
	} else {
		v, err = call()
	}
	if err != nil {
		return envelope{}, err
	}
	return v.(envelope), nil
}

// sensor ids are numeric on the backend; anything else is sent as-is
func sensorIDValue(id string) any {
	if n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil {
		return n
	}
	return id
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
