package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/inboxpilot/mailagent/dto"
	"github.com/inboxpilot/mailagent/interfaces"
	"github.com/inboxpilot/mailagent/internal/logger"
	"github.com/inboxpilot/mailagent/internal/tracing"
)

const (
	ExchangeMailagent = "mailagent-events"

	RoutingKeyMessageStored    = "message-stored"
	RoutingKeyMessageProcessed = "message-processed"

	defaultPublishTimeout   = 5 * time.Second
	defaultMaxRetries       = 3
	defaultReconnectBackoff = time.Second
	maxReconnectBackoff     = 30 * time.Second
)

// RabbitMQPublisher emits message lifecycle events on a direct exchange.
// It reconnects on its own when the broker connection drops.
type RabbitMQPublisher struct {
	url    string
	logger logger.Logger

	connectionMutex sync.Mutex
	connection      *amqp091.Connection
	publishMutex    sync.Mutex
	publishChannel  *amqp091.Channel
	confirms        chan amqp091.Confirmation
	closed          chan struct{}
	closeOnce       sync.Once
}

func NewRabbitMQPublisher(rabbitmqURL string, logger logger.Logger) (interfaces.EventPublisher, error) {
	publisher := &RabbitMQPublisher{
		url:    rabbitmqURL,
		logger: logger,
		closed: make(chan struct{}),
	}
	if err := publisher.connect(); err != nil {
		return nil, err
	}
	return publisher, nil
}

func (r *RabbitMQPublisher) PublishMessageStored(ctx context.Context, event dto.MessageStored) error {
	return r.publish(ctx, RoutingKeyMessageStored, event)
}

func (r *RabbitMQPublisher) PublishMessageProcessed(ctx context.Context, event dto.MessageProcessed) error {
	return r.publish(ctx, RoutingKeyMessageProcessed, event)
}

func (r *RabbitMQPublisher) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	connection, err := amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "failed to connect to RabbitMQ")
	}
	r.connection = connection

	if err := r.setupPublishChannel(); err != nil {
		return err
	}

	go r.handleReconnection()
	return nil
}

func (r *RabbitMQPublisher) setupPublishChannel() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "failed to open publish channel")
	}

	if err := channel.ExchangeDeclare(ExchangeMailagent, "direct", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		return errors.Wrap(err, "failed to declare exchange")
	}

	if err := channel.Confirm(false); err != nil {
		_ = channel.Close()
		return errors.Wrap(err, "failed to enable publisher confirms")
	}

	r.confirms = channel.NotifyPublish(make(chan amqp091.Confirmation, 1))
	r.publishChannel = channel
	return nil
}

func (r *RabbitMQPublisher) handleReconnection() {
	backoff := defaultReconnectBackoff

	notifyClose := r.connection.NotifyClose(make(chan *amqp091.Error, 1))
	select {
	case <-r.closed:
		return
	case err := <-notifyClose:
		if err == nil {
			return
		}
		r.logger.Warnf("RabbitMQ connection closed: %v, reconnecting", err)
	}

	for {
		select {
		case <-r.closed:
			return
		default:
		}

		if err := r.connect(); err == nil {
			r.logger.Info("reconnected to RabbitMQ")
			return
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

func (r *RabbitMQPublisher) publish(ctx context.Context, routingKey string, event interface{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.publish")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.SetTag("routing_key", routingKey)
	tracing.LogObjectAsJson(span, "event", event)

	var lastErr error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if err := r.publishWithConfirm(ctx, routingKey, event); err == nil {
			return nil
		} else {
			lastErr = err
			r.logger.Warnf("publish attempt %d failed: %v", attempt+1, err)
			if attempt < defaultMaxRetries-1 {
				time.Sleep(time.Millisecond * 100 * time.Duration(attempt+1))
			}
		}
	}
	tracing.TraceErr(span, lastErr)
	return errors.Wrap(lastErr, "failed to publish event after all retries")
}

func (r *RabbitMQPublisher) publishWithConfirm(ctx context.Context, routingKey string, event interface{}) error {
	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	if r.publishChannel == nil || r.publishChannel.IsClosed() {
		if err := r.setupPublishChannel(); err != nil {
			return err
		}
	}

	body, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	err = r.publishChannel.PublishWithContext(publishCtx, ExchangeMailagent, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish")
	}

	select {
	case confirmation := <-r.confirms:
		if !confirmation.Ack {
			return errors.New("broker rejected the message")
		}
		return nil
	case <-publishCtx.Done():
		return errors.New("timed out waiting for publish confirmation")
	}
}

func (r *RabbitMQPublisher) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })

	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.publishChannel != nil && !r.publishChannel.IsClosed() {
		_ = r.publishChannel.Close()
	}
	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}
