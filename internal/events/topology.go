package events

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 5 * time.Second

// Topology names the broker resources shared by publisher and consumer
type Topology struct {
	Exchange     string
	ExchangeKind string
	Queue        string
}

// DeadLetterQueue is the queue receiving notifications that exhausted their attempts
func (t Topology) DeadLetterQueue() string {
	return t.Queue + ".dead"
}

// declareTopology declares the durable exchange and queue and binds them with
// an empty routing key. Declarations are idempotent.
func declareTopology(ch *amqp.Channel, t Topology) error {
	if err := ch.ExchangeDeclare(
		t.Exchange,
		t.ExchangeKind,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return pkgerrors.Wrapf(err, "failed to declare exchange %s", t.Exchange)
	}

	if _, err := ch.QueueDeclare(
		t.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return pkgerrors.Wrapf(err, "failed to declare queue %s", t.Queue)
	}

	if err := ch.QueueBind(t.Queue, "", t.Exchange, false, nil); err != nil {
		return pkgerrors.Wrapf(err, "failed to bind queue %s", t.Queue)
	}
	return nil
}

func declareDeadLetterQueue(ch *amqp.Channel, t Topology) error {
	if _, err := ch.QueueDeclare(t.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return pkgerrors.Wrapf(err, "failed to declare queue %s", t.DeadLetterQueue())
	}
	return nil
}

func dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(ErrTransportUnavailable, err.Error())
	}
	return conn, nil
}
