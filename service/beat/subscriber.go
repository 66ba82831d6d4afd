package beat

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/b3trbeach/storefront/service/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
)

// Beat is one new-block notification from the node's beat subscription.
// The bloom carries a probabilistic filter of every address and data item
// the block touched, so consumers can decide relevance without fetching
// the block body.
type Beat struct {
	Number      uint32 `json:"number"`
	ID          string `json:"id"`
	ParentID    string `json:"parentID"`
	Timestamp   uint64 `json:"timestamp"`
	TxsFeatures int    `json:"txsFeatures"`
	GasLimit    uint64 `json:"gasLimit"`
	Bloom       string `json:"bloom"`
	K           int    `json:"k"`
	Obsolete    bool   `json:"obsolete"`
}

// Touches reports whether the beat's bloom maybe-contains any of the given
// addresses. A filter that cannot be decoded counts as touching everything:
// an extra receipt fetch is harmless, a missed one is not.
func (b *Beat) Touches(addrs ...common.Address) bool {
	bits, err := hexutil.Decode(b.Bloom)
	if err != nil || len(bits) == 0 {
		return true
	}
	filter := NewFilter(bits, b.K)
	for _, addr := range addrs {
		if filter.Contains(addr.Bytes()) {
			return true
		}
	}
	return false
}

// Watcher receives beats relevant to a set of watched addresses.
type watcher struct {
	addrs []common.Address
	ch    chan Beat
}

// Subscriber maintains one shared websocket subscription to the node's
// new-block feed and fans relevant beats out to local watchers. The
// connection tolerates drops by reconnecting; watchers observe a gap in
// events, never an error.
type Subscriber struct {
	wsURL         string
	dialer        *websocket.Dialer
	reconnectWait time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics

	mu       sync.Mutex
	watchers map[*watcher]struct{}
}

// NewSubscriber creates a subscriber for the given node URL. The node URL
// is the HTTP base; the websocket scheme and subscription path are derived
// from it. If m is nil, no metrics are recorded.
func NewSubscriber(nodeURL string, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	wsURL := strings.TrimRight(nodeURL, "/")
	if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}
	wsURL += "/subscriptions/beat2"

	return &Subscriber{
		wsURL: wsURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		reconnectWait: time.Second,
		logger:        logger,
		metrics:       m,
		watchers:      make(map[*watcher]struct{}),
	}
}

// Run drives the subscription until the context is cancelled. Connection
// failures are retried indefinitely; Run only returns the context error.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
		if err != nil {
			s.logger.WarnContext(ctx, "beat subscription dial failed, retrying",
				"url", s.wsURL,
				"error", err,
			)
			if s.metrics != nil {
				s.metrics.RecordBeatReconnect()
			}
			select {
			case <-time.After(s.reconnectWait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.logger.InfoContext(ctx, "beat subscription connected", "url", s.wsURL)
		s.readLoop(ctx, conn)
		conn.Close()

		if err := ctx.Err(); err != nil {
			return err
		}

		s.logger.WarnContext(ctx, "beat subscription lost, reconnecting")
		if s.metrics != nil {
			s.metrics.RecordBeatReconnect()
		}
		select {
		case <-time.After(s.reconnectWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop reads beats until the connection drops or the context ends.
func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadJSON when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var beat Beat
		if err := conn.ReadJSON(&beat); err != nil {
			if ctx.Err() == nil {
				s.logger.DebugContext(ctx, "beat read failed", "error", err)
			}
			return
		}
		s.dispatch(beat)
	}
}

// dispatch fans a beat out to all watchers whose addresses it touches.
// Sends never block: a slow watcher misses the beat, which is the same
// observable behavior as a connection gap.
func (s *Subscriber) dispatch(beat Beat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	relevant := false
	for w := range s.watchers {
		if !beat.Touches(w.addrs...) {
			continue
		}
		relevant = true
		select {
		case w.ch <- beat:
		default:
			s.logger.Debug("watcher lagging, dropped beat", "block", beat.Number)
		}
	}

	if s.metrics != nil {
		if relevant {
			s.metrics.RecordBeat("relevant")
		} else {
			s.metrics.RecordBeat("ignored")
		}
	}
}

// Watch registers interest in a set of addresses and returns a channel of
// relevant beats plus a teardown function. The teardown is idempotent and
// must be called when the consumer is done, or the watcher leaks.
func (s *Subscriber) Watch(addrs ...common.Address) (<-chan Beat, func()) {
	w := &watcher{
		addrs: append([]common.Address(nil), addrs...),
		ch:    make(chan Beat, 8),
	}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordWatcherChange(1)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, w)
			close(w.ch)
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordWatcherChange(-1)
			}
		})
	}
	return w.ch, cancel
}
