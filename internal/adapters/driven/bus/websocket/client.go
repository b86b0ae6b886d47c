package websocket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

const (
	defaultReconnectInterval = 500 * time.Millisecond
	maxReconnectInterval     = 30 * time.Second
	subscriptionBuffer       = 16
)

// Ensure Bus implements the interface.
var _ driven.Bus = (*Bus)(nil)

// Bus is a client of a Hub.
type Bus struct {
	base       *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// NewBus creates a client for the hub at rawURL ("http://host:port").
func NewBus(rawURL string) (*Bus, error) {
	base, err := url.Parse(rawURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: bus url %q", domain.ErrInvalidInput, rawURL)
	}
	return &Bus{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dialer:     websocket.DefaultDialer,
		subs:       make(map[*subscription]struct{}),
	}, nil
}

func (b *Bus) topicURL(topic string, ws bool) string {
	u := *b.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/topics/" + url.PathEscape(topic)
	if ws {
		u.Path += "/subscribe"
		if u.Scheme == "https" {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
	}
	return u.String()
}

// Publish posts payload to the hub.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.topicURL(topic, false), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: publishing to %s: %v", domain.ErrBusUnavailable, topic, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: hub returned %s", domain.ErrBusUnavailable, resp.Status)
	}
	return nil
}

// Subscribe connects to the hub and keeps reconnecting until ctx ends or
// the subscription is closed. The first connection must succeed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (driven.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: bus closed", domain.ErrBusUnavailable)
	}
	b.mu.Unlock()

	target := b.topicURL(topic, true)
	conn, _, err := b.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribing to %s: %v", domain.ErrBusUnavailable, topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		bus:    b,
		ch:     make(chan []byte, subscriptionBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		conn.Close()
		return nil, fmt.Errorf("%w: bus closed", domain.ErrBusUnavailable)
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(subCtx, target, conn)
	return sub, nil
}

// Close ends every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

type subscription struct {
	bus    *Bus
	ch     chan []byte
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Messages() <-chan []byte { return s.ch }

// Close cancels the connection loop and waits for the channel to close.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return nil
}

// run reads from conn, reconnecting with exponential backoff when the
// connection drops, until ctx ends.
func (s *subscription) run(ctx context.Context, target string, conn *websocket.Conn) {
	defer close(s.done)
	defer close(s.ch)

	delay := defaultReconnectInterval
	for {
		if conn != nil {
			delay = defaultReconnectInterval
			s.read(ctx, conn)
			conn = nil
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		var err error
		conn, _, err = s.bus.dialer.DialContext(ctx, target, nil)
		if err != nil {
			logger.Warn("bus: reconnect to %s failed: %v, retrying in %v", target, err, delay)
			delay = min(delay*2, maxReconnectInterval)
			conn = nil
			continue
		}
		logger.Info("bus: reconnected to %s", target)
	}
}

// read delivers messages from conn until it fails or ctx ends.
func (s *subscription) read(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("bus: connection lost: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case s.ch <- payload:
		default:
			logger.Warn("bus: subscriber buffer full, dropping message")
		}
	}
}
