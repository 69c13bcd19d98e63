package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"kitchen-display/internal/domain"
)

// Exchange carries kitchen status-change events for back-office consumers
// (notifications, reporting). Fanout: every consumer gets every event.
const Exchange = "kds_status"

type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func Dial(host string, port int, user, pass, vhost string) (*Publisher, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s", user, pass, host, port, vhost)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch}, nil
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// PublishStatusChange mirrors a display-initiated transition to the exchange.
func (p *Publisher) PublishStatusChange(ctx context.Context, ev domain.StatusChange) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, Exchange, "", false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     uuid.NewString(),
		CorrelationId: ev.OrderID,
		Timestamp:     time.Now().UTC(),
		Headers: amqp.Table{
			"x-source": "kitchen-display",
			"x-device": ev.ChangedBy,
		},
		Body: body,
	})
}
