package feed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitFeed broadcasts session change events over a fanout exchange so
// every device/node holding a subscription sees every write.
type RabbitFeed struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewRabbitFeed(url, exchange string) (*RabbitFeed, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &RabbitFeed{conn: conn, ch: ch, exchange: exchange}, nil
}

func (f *RabbitFeed) Close() error {
	if f.ch != nil {
		_ = f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *RabbitFeed) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return f.ch.PublishWithContext(cctx,
		f.exchange,
		"", // fanout ignores routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
}

// Subscribe binds a fresh exclusive queue to the exchange and pumps
// deliveries into handler until cancel is called.
func (f *RabbitFeed) Subscribe(handler func(Event)) (func(), error) {
	ch, err := f.conn.Channel()
	if err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(q.Name, "", f.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	go func() {
		for d := range deliveries {
			var ev Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Printf("[feed] bad event payload: %v", err)
				continue
			}
			handler(ev)
		}
	}()

	return func() { _ = ch.Close() }, nil
}
