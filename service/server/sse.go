package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/b3trbeach/storefront/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SSEPublisher manages Server-Sent Events connections for purchase streaming.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("storefront-sse-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// handleStreamPurchases handles SSE streaming for confirmed purchases.
// If the address path parameter is empty, streams all payers. Otherwise,
// streams purchases from the specific payer address.
func handleStreamPurchases(publisher *SSEPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		var subject string
		var payerDesc string
		if address == "" {
			subject = "purchases.*"
			payerDesc = "all payers"
		} else {
			subject = fmt.Sprintf("purchases.%s", address)
			payerDesc = address
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		logger.DebugContext(r.Context(), "SSE client connected",
			"payer", payerDesc,
			"remote_addr", r.RemoteAddr,
		)

		// Ephemeral consumer, deleted when the connection closes
		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy, // Only deliver messages after consumer creation
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"payer", payerDesc,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
					return
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages",
					"error", err,
				)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		// Send initial connection event
		fmt.Fprintf(w, "event: connected\ndata: {\"payer\":\"%s\"}\n\n", payerDesc)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		// Keepalive comments prevent idle proxies from closing the stream
		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}

			case msg := <-msgChan:
				var event natspkg.PurchaseEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event",
						"error", err,
					)
					msg.Ack()
					continue
				}

				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event",
						"error", err,
					)
					msg.Ack()
					continue
				}

				fmt.Fprintf(w, "event: purchase\ndata: %s\n\n", string(data))
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}

				msg.Ack()

				logger.DebugContext(r.Context(), "sent purchase event",
					"payer", payerDesc,
					"tx_id", event.TxID,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"payer", payerDesc,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}
