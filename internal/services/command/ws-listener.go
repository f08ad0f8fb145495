package command

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultWSEvents are the frame events dispatched as commands.
var DefaultWSEvents = []string{"device-command", "device-state-change"}

type WSConfig struct {
	URL        string
	Events     []string
	Header     http.Header
	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 30s
}

// frame is one {"event": ..., "data": {...}} websocket message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WSListener reads command frames from the backend websocket and reconnects
// with backoff until its context ends.
type WSListener struct {
	cfg     WSConfig
	proc    CommandProcessor
	dialer  *websocket.Dialer
	allowed map[string]bool
	log     zerolog.Logger
}

func NewWSListener(cfg WSConfig, proc CommandProcessor, log zerolog.Logger) *WSListener {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	events := cfg.Events
	if len(events) == 0 {
		events = DefaultWSEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &WSListener{
		cfg:     cfg,
		proc:    proc,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		allowed: allowed,
		log:     log,
	}
}

// Run blocks until ctx is done and returns ctx.Err().
func (l *WSListener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.MinBackoff
	bo.MaxInterval = l.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		l.log.Warn().Err(err).Dur("retry_in", wait).Msg("ws: disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (l *WSListener) session(ctx context.Context) (bool, error) {
	conn, _, err := l.dialer.DialContext(ctx, l.cfg.URL, l.cfg.Header)
	if err != nil {
		return false, err
	}
	l.log.Info().Str("url", l.cfg.URL).Msg("ws: connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := l.dispatch(data); err != nil {
			l.log.Warn().Err(err).Msg("ws: bad frame")
		}
	}
}

func (l *WSListener) dispatch(raw []byte) error {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return err
	}
	if !l.allowed[f.Event] {
		l.log.Debug().Str("event", f.Event).Msg("ws: event ignored")
		return nil
	}
	if len(f.Data) == 0 {
		return errors.New("frame without data")
	}
	cmd, err := Decode(f.Data, "")
	if err != nil {
		return err
	}
	if !l.proc.ProcessCommand(cmd) {
		l.log.Warn().Str("event", f.Event).Msg("ws: command rejected, no device id")
	}
	return nil
}
