package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/logger"
)

// NATSBridge mirrors every event emitted on a Bus onto a NATS subject, for
// deployments with `events.transport=nats` that need the Event Bus visible
// to other processes. The in-memory Bus itself remains authoritative for
// every invariant in the spec; the bridge is a one-way publish-only mirror,
// not an alternate implementation of Bus.
//
// Grounded on the teacher's events/bus/nats.go (NATSEventBus): the same
// nats.Connect option set (named client, bounded reconnects, reconnect
// buffer) and connection-lifecycle handlers, narrowed here to Publish-only
// since Subscribe/Request have no role in the spec's single-process event
// model.
type NATSBridge struct {
	conn          *nats.Conn
	subjectPrefix string
	log           *logger.Logger
}

// NATSConfig configures the bridge's connection.
type NATSConfig struct {
	URL           string
	ClientID      string
	MaxReconnects int
	SubjectPrefix string
}

// ConnectNATSBridge dials cfg.URL and returns a bridge ready for Mirror.
func ConnectNATSBridge(cfg NATSConfig, log *logger.Logger) (*NATSBridge, error) {
	if log == nil {
		log = logger.Default()
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "finger.events"
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(5 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats bridge disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats bridge reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("nats bridge connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to nats: %w", err)
	}
	return &NATSBridge{conn: conn, subjectPrefix: prefix, log: log}, nil
}

// Mirror subscribes to every event on bus and republishes it to
// "<subjectPrefix>.<group>" on NATS. Returns the Bus subscription so the
// caller can Unsubscribe to stop mirroring.
func (n *NATSBridge) Mirror(bus *Bus) *Subscription {
	return bus.SubscribeByGroup("", func(evt Event) {
		data, err := json.Marshal(evt)
		if err != nil {
			n.log.Error("nats bridge failed to marshal event", zap.Error(err))
			return
		}
		subject := n.subjectPrefix + "." + string(evt.Group)
		if err := n.conn.Publish(subject, data); err != nil {
			n.log.Error("nats bridge publish failed", zap.String("subject", subject), zap.Error(err))
		}
	})
}

// Close drains and closes the underlying NATS connection.
func (n *NATSBridge) Close() {
	if n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.log.Warn("nats bridge drain failed, closing directly", zap.Error(err))
		n.conn.Close()
	}
}
