// internal/dispatch/worker.go
package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/pacing"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/tracker"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

// ConsumerChannel is what the worker pool needs from *amqp.Channel.
type ConsumerChannel interface {
	BrokerChannel
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

type WorkerConfig struct {
	QueueName   string
	Workers     int
	MaxAttempts int
	SendTimeout time.Duration
}

// WorkerPool drains the dispatch queue: each worker waits for its job's
// not-before time, takes a grant from the rate governor, sends through the
// transport and reports the outcome to the delivery tracker. Transient
// failures are republished with an exponential-backoff not-before; the
// broker's ack semantics keep delivery at-least-once.
type WorkerPool struct {
	ch        ConsumerChannel
	cfg       WorkerConfig
	transport transport.Transport
	governor  *pacing.Governor
	tracker   *tracker.Tracker
	state     repository.QueueStateRepositoryInterface
	log       zerolog.Logger
}

func NewWorkerPool(
	ch ConsumerChannel,
	cfg WorkerConfig,
	tr transport.Transport,
	governor *pacing.Governor,
	tk *tracker.Tracker,
	state repository.QueueStateRepositoryInterface,
	log zerolog.Logger,
) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = pacing.MaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &WorkerPool{
		ch:        ch,
		cfg:       cfg,
		transport: tr,
		governor:  governor,
		tracker:   tk,
		state:     state,
		log:       log.With().Str("component", "worker").Logger(),
	}
}

// Run consumes until ctx is canceled or the broker closes the channel.
func (p *WorkerPool) Run(ctx context.Context) error {
	if _, err := p.ch.QueueDeclare(p.cfg.QueueName, true, false, false, false, queueArgs()); err != nil {
		return err
	}
	if err := p.ch.Qos(p.cfg.Workers, 0, false); err != nil {
		return err
	}
	msgs, err := p.ch.Consume(p.cfg.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	p.log.Info().Int("workers", p.cfg.Workers).Str("queue", p.cfg.QueueName).Msg("worker pool running")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-msgs:
					if !ok {
						return
					}
					p.handle(ctx, d)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (p *WorkerPool) handle(ctx context.Context, d amqp.Delivery) {
	var job model.DispatchJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		p.log.Warn().Err(err).Msg("dropping malformed job payload")
		d.Ack(false)
		return
	}

	if !p.waitUntilDue(ctx, job.NotBefore) {
		// Shutting down: leave the job unacked for redelivery.
		d.Nack(false, true)
		return
	}
	if !p.waitWhilePaused(ctx) {
		d.Nack(false, true)
		return
	}

	if _, err := p.governor.Admit(ctx); err != nil {
		d.Nack(false, true)
		return
	}

	if err := p.tracker.RecordProcessing(job.DeliveryID); err != nil {
		p.log.Error().Err(err).Int("delivery_id", job.DeliveryID).Msg("cannot mark processing")
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	providerID, note, err := sendJob(sendCtx, p.transport, job)
	cancel()

	switch {
	case err == nil:
		if rerr := p.tracker.RecordSent(job.DeliveryID, providerID, note); rerr != nil {
			p.log.Error().Err(rerr).Int("delivery_id", job.DeliveryID).Msg("cannot record sent")
		}
		d.Ack(false)

	case transport.IsPermanent(err) || job.Attempt+1 >= p.cfg.MaxAttempts:
		if rerr := p.tracker.RecordFailed(job.DeliveryID, err.Error()); rerr != nil {
			p.log.Error().Err(rerr).Int("delivery_id", job.DeliveryID).Msg("cannot record failure")
		}
		p.log.Warn().Err(err).
			Int("delivery_id", job.DeliveryID).
			Int("attempt", job.Attempt+1).
			Msg("job failed permanently")
		d.Ack(false)

	default:
		// Transient failure with attempts left: republish with a backoff
		// not-before, then ack the original so no worker sits blocked.
		job.Attempt++
		job.NotBefore = time.Now().Add(pacing.Backoff(job.Attempt))
		job.Priority = retryPriority
		if rerr := p.republish(job); rerr != nil {
			p.log.Error().Err(rerr).Int("delivery_id", job.DeliveryID).Msg("republish failed, requeueing original")
			d.Nack(false, true)
			return
		}
		p.log.Info().Err(err).
			Int("delivery_id", job.DeliveryID).
			Int("attempt", job.Attempt).
			Time("retry_at", job.NotBefore).
			Msg("retrying transient failure")
		d.Ack(false)
	}
}

func (p *WorkerPool) republish(job model.DispatchJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.ch.Publish("", p.cfg.QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     uint8(job.Priority),
		MessageId:    job.ID,
		Body:         body,
	})
}

func (p *WorkerPool) waitUntilDue(ctx context.Context, notBefore time.Time) bool {
	wait := time.Until(notBefore)
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *WorkerPool) waitWhilePaused(ctx context.Context) bool {
	for {
		paused, err := p.state.Paused()
		if err != nil {
			p.log.Error().Err(err).Msg("cannot read queue state, proceeding")
			return true
		}
		if !paused {
			return true
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return false
		}
	}
}
