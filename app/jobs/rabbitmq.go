package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/amirphl/evoteli/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQQueue publishes jobs to a durable direct exchange and consumes them
// from a bound queue, so several processes can share the work.
type RabbitMQQueue struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	exchange    string
	routingKey  string
	queueName   string
	consumerTag string
	logger      *log.Logger
}

func NewRabbitMQQueue(cfg config.QueueConfig, logger *log.Logger) (*RabbitMQQueue, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	closeAll := func() {
		ch.Close()
		conn.Close()
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		closeAll()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		closeAll()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 4
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		closeAll()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	logger.Printf("jobs: connected to rabbitmq exchange=%s queue=%s routing_key=%s", cfg.Exchange, q.Name, cfg.RoutingKey)

	return &RabbitMQQueue{
		conn:        conn,
		channel:     ch,
		exchange:    cfg.Exchange,
		routingKey:  cfg.RoutingKey,
		queueName:   q.Name,
		consumerTag: cfg.ConsumerTag,
		logger:      logger,
	}, nil
}

// Enqueue implements Dispatcher
func (r *RabbitMQQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.ID,
			Type:         string(job.Kind),
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Consume feeds deliveries to run on workers goroutines until ctx is done.
// A delivery is acked once its run returns; job failures are already
// persisted on the subject's records. Undecodable messages are dropped.
func (r *RabbitMQQueue) Consume(ctx context.Context, workers int, run func(ctx context.Context, job Job) error) error {
	deliveries, err := r.channel.ConsumeWithContext(ctx, r.queueName, r.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	return r.dispatchDeliveries(ctx, deliveries, workers, run)
}

func (r *RabbitMQQueue) dispatchDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery, workers int, run func(ctx context.Context, job Job) error) error {
	if workers <= 0 {
		workers = 1
	}
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.consumeLoop(ctx, deliveries, run)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *RabbitMQQueue) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, run func(ctx context.Context, job Job) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			var job Job
			if err := json.Unmarshal(d.Body, &job); err != nil {
				r.logger.Printf("jobs: dropping undecodable message id=%s: %v", d.MessageId, err)
				_ = d.Nack(false, false)
				continue
			}
			_ = run(ctx, job)
			if err := d.Ack(false); err != nil {
				r.logger.Printf("jobs: ack failed for job id=%s: %v", job.ID, err)
			}
		}
	}
}

func (r *RabbitMQQueue) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
