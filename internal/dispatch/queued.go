// internal/dispatch/queued.go
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// BrokerChannel is the slice of *amqp.Channel the dispatcher needs. Tests
// substitute a fake; production passes the real channel.
type BrokerChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueInspect(name string) (amqp.Queue, error)
	QueuePurge(name string, noWait bool) (int, error)
}

const (
	// maxPriority is the broker-side priority range of the dispatch queue.
	// RabbitMQ ignores Publishing.Priority unless the queue is declared
	// with x-max-priority.
	maxPriority = 10

	// retryPriority lets republished retries overtake the fresh backlog
	// once their backoff elapses.
	retryPriority = 5
)

func queueArgs() amqp.Table {
	return amqp.Table{"x-max-priority": int32(maxPriority)}
}

// QueuedDispatcher publishes jobs to a durable RabbitMQ queue. Delivery is
// at-least-once: the broker redelivers unacked jobs across process restarts.
type QueuedDispatcher struct {
	ch        BrokerChannel
	queueName string

	deliveries repository.DeliveryRepositoryInterface
	state      repository.QueueStateRepositoryInterface

	delays        delayBook
	secondsPerJob float64
	concurrency   int

	log zerolog.Logger
}

type QueuedConfig struct {
	QueueName     string
	SecondsPerJob float64
	Concurrency   int
}

func NewQueuedDispatcher(
	ch BrokerChannel,
	cfg QueuedConfig,
	deliveries repository.DeliveryRepositoryInterface,
	state repository.QueueStateRepositoryInterface,
	log zerolog.Logger,
) (*QueuedDispatcher, error) {
	if _, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, queueArgs()); err != nil {
		return nil, err
	}
	return &QueuedDispatcher{
		ch:            ch,
		queueName:     cfg.QueueName,
		deliveries:    deliveries,
		state:         state,
		secondsPerJob: cfg.SecondsPerJob,
		concurrency:   cfg.Concurrency,
		log:           log.With().Str("component", "dispatch").Str("mode", "queued").Logger(),
	}, nil
}

func (d *QueuedDispatcher) Enqueue(ctx context.Context, job model.DispatchJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	err = d.ch.Publish("", d.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     uint8(job.Priority),
		MessageId:    job.ID,
		Body:         body,
	})
	if err != nil {
		return "", err
	}

	d.delays.Add(job.NotBefore)
	return job.ID, nil
}

func (d *QueuedDispatcher) Stats(ctx context.Context) (QueueStats, error) {
	q, err := d.ch.QueueInspect(d.queueName)
	if err != nil {
		return QueueStats{}, err
	}

	counts, err := d.deliveries.GlobalCounts()
	if err != nil {
		return QueueStats{}, err
	}

	// Not-yet-due jobs sit in the broker queue too, so they are part of
	// q.Messages; carve them out of waiting instead of counting them twice.
	delayed := d.delays.Pending(time.Now())
	waiting := q.Messages - delayed
	if waiting < 0 {
		waiting = 0
	}

	stats := QueueStats{
		Waiting:   waiting,
		Active:    counts[model.DeliveryProcessing],
		Completed: counts[model.DeliverySent] + counts[model.DeliveryDelivered] + counts[model.DeliveryRead],
		Failed:    counts[model.DeliveryFailed],
		Delayed:   delayed,
	}
	stats.EstimatedDrainSeconds = estimateDrain(stats.Waiting+stats.Delayed, d.secondsPerJob, d.concurrency)
	return stats, nil
}

func (d *QueuedDispatcher) Pause() error {
	d.log.Info().Msg("pausing dispatch queue")
	return d.state.SetPaused(true)
}

func (d *QueuedDispatcher) Resume() error {
	d.log.Info().Msg("resuming dispatch queue")
	return d.state.SetPaused(false)
}

// Clear purges ready jobs from the broker. In-flight jobs cannot be
// retracted; with includeActive the caller accepts they run to completion.
func (d *QueuedDispatcher) Clear(includeActive bool) error {
	n, err := d.ch.QueuePurge(d.queueName, false)
	if err != nil {
		return err
	}
	d.log.Info().Int("purged", n).Bool("include_active", includeActive).Msg("cleared dispatch queue")
	if includeActive {
		d.log.Warn().Msg("active jobs cannot be retracted and will run to completion")
	}
	return nil
}

func (d *QueuedDispatcher) FallbackMode() bool { return false }

var _ Dispatcher = (*QueuedDispatcher)(nil)
