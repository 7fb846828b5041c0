// Package taskqueue builds the watermill publisher and subscriber that carry
// batches from the receiver to the insert workers.
package taskqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"github.com/okian/spawnfence/internal/config"
	"github.com/okian/spawnfence/pkg/logger"
)

const (
	maxReconnects   = -1
	reconnectWait   = 2 * time.Second
	reconnectBuffer = 8 << 20
	closeTimeout    = 30 * time.Second
	memoryBuffer    = 1024
)

// NewLogger adapts the process logger for watermill components.
func NewLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.Slog())
}

// Transport lazily creates the publisher and subscriber for the configured
// driver. With the memory driver both sides share one in-process channel.
type Transport struct {
	cfg    *config.Config
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	pub    message.Publisher
	sub    message.Subscriber
	memory *gochannel.GoChannel
}

// New validates the driver and returns an unconnected transport.
func New(cfg *config.Config, log watermill.LoggerAdapter) (*Transport, error) {
	switch cfg.TaskQueueDriver {
	case config.TaskQueueNATS, config.TaskQueueMemory:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.TaskQueueDriver)
	}
	if log == nil {
		log = watermill.NopLogger{}
	}
	return &Transport{cfg: cfg, logger: log}, nil
}

// Publisher returns the batch publisher, connecting on first use.
func (t *Transport) Publisher() (message.Publisher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pub != nil {
		return t.pub, nil
	}
	if t.cfg.TaskQueueDriver == config.TaskQueueMemory {
		t.pub = t.memoryLocked()
		return t.pub, nil
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         t.cfg.NATSURL,
		NatsOptions: t.natsOptions("publisher"),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, t.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: publisher: %v", ErrConnect, err)
	}
	t.pub = pub
	return t.pub, nil
}

// Subscriber returns the batch subscriber, connecting on first use. NATS
// subscribers join a durable queue group so each batch reaches one worker.
func (t *Transport) Subscriber() (message.Subscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sub != nil {
		return t.sub, nil
	}
	if t.cfg.TaskQueueDriver == config.TaskQueueMemory {
		t.sub = t.memoryLocked()
		return t.sub, nil
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              t.cfg.NATSURL,
		QueueGroupPrefix: t.cfg.QueueGroup,
		SubscribersCount: max(1, t.cfg.WorkerCount),
		AckWaitTimeout:   t.cfg.AckWait,
		CloseTimeout:     closeTimeout,
		NatsOptions:      t.natsOptions("subscriber"),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.AckWait(t.cfg.AckWait),
				natsgo.DeliverAll(),
			},
			DurablePrefix: t.cfg.QueueGroup,
		},
	}, t.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: subscriber: %v", ErrConnect, err)
	}
	t.sub = sub
	return t.sub, nil
}

// Close closes whatever was opened.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.memory != nil {
		err := t.memory.Close()
		t.memory, t.pub, t.sub = nil, nil, nil
		return err
	}

	var firstErr error
	if t.pub != nil {
		if err := t.pub.Close(); err != nil {
			firstErr = err
		}
		t.pub = nil
	}
	if t.sub != nil {
		if err := t.sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.sub = nil
	}
	return firstErr
}

func (t *Transport) memoryLocked() *gochannel.GoChannel {
	if t.memory == nil {
		t.memory = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: memoryBuffer,
			Persistent:          true,
		}, t.logger)
	}
	return t.memory
}

func (t *Transport) natsOptions(role string) []natsgo.Option {
	log := t.logger.With(watermill.LogFields{"role": role})
	return []natsgo.Option{
		natsgo.Name("spawnfence-" + role),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(maxReconnects),
		natsgo.ReconnectWait(reconnectWait),
		natsgo.ReconnectBufSize(reconnectBuffer),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				log.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			log.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}
