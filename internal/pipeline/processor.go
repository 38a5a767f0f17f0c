package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/credit"
	"github.com/neviso/core/internal/infra/storage"
	"github.com/neviso/core/internal/metrics"
	"github.com/neviso/core/internal/notify"
	"github.com/neviso/core/internal/queue"
	"github.com/neviso/core/internal/transform"
)

// Config holds the processor's tunables.
type Config struct {
	PollInterval time.Duration
	Retry        RetryPolicy
}

// Processor pulls dispatched jobs and runs them to settlement:
// charge, transform, complete or refund-and-reschedule. Credits move
// in short transactions on either side of the external call; the call
// itself never runs under a ledger lock.
type Processor struct {
	cfg        Config
	store      storage.Store
	ledger     *credit.Ledger
	estimator  *credit.Estimator
	controller *queue.Controller
	service    transform.Service
	sink       notify.Sink
	log        *slog.Logger

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewProcessor wires a processor.
func NewProcessor(cfg Config, store storage.Store, ledger *credit.Ledger, estimator *credit.Estimator, controller *queue.Controller, service transform.Service, sink notify.Sink) *Processor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Processor{
		cfg:        cfg,
		store:      store,
		ledger:     ledger,
		estimator:  estimator,
		controller: controller,
		service:    service,
		sink:       sink,
		log:        slog.Default(),
		stop:       make(chan struct{}),
	}
}

// Start launches the polling loop.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				p.drain(ctx)
			}
		}
	}()
}

// Stop signals the loop and waits for the in-flight job to settle.
func (p *Processor) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// drain dispatches until the queue is empty or capacity is reached.
func (p *Processor) drain(ctx context.Context) {
	for {
		task, err := p.controller.Dispatch(ctx)
		if err != nil {
			p.log.Error("Dispatch failed", "error", err)
			return
		}
		if task == nil {
			return
		}
		if err := p.ProcessTask(ctx, task); err != nil {
			p.log.Error("Job settlement failed", "job", task.JobID, "error", err)
		}
	}
}

// ProcessTask runs one dispatched job to a terminal state or a
// scheduled retry.
func (p *Processor) ProcessTask(ctx context.Context, task *queue.Task) error {
	artifacts, err := p.store.Jobs().Artifacts(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("failed to load artifacts for %s: %w", task.JobID, err)
	}

	cost, err := p.estimator.Estimate(artifacts)
	if err != nil {
		// Unpriceable input is a permanent failure; nothing was charged.
		cat := Classify(err)
		p.failJob(ctx, task, err, cat, cat.UserMessage())
		return nil
	}
	if cost.IsZero() {
		job, jerr := p.store.Jobs().Get(ctx, task.JobID)
		if jerr != nil {
			return fmt.Errorf("failed to load job %s: %w", task.JobID, jerr)
		}
		cost = job.EstimatedCost
	}

	if cost.IsPositive() {
		if err := p.ledger.Deduct(ctx, task.OwnerID, cost, task.JobID, "note processing"); err != nil {
			var insufficient *credit.InsufficientCreditsError
			if errors.As(err, &insufficient) {
				p.sink.LowBalance(ctx, task.OwnerID, insufficient.Needed, insufficient.Available)
				p.failJob(ctx, task, err, CategoryQuota, "your credit balance does not cover this recording")
				return nil
			}
			// Nothing was charged; settle with no refund so a storage
			// outage reschedules the job instead of stranding it.
			p.settleFailure(ctx, task, decimal.Zero, err)
			return nil
		}
	}

	result, err := p.service.Process(ctx, artifacts)
	if err != nil {
		p.settleFailure(ctx, task, cost, err)
		return nil
	}

	if err := p.controller.Complete(ctx, task.JobID, true, "", ""); err != nil {
		return err
	}
	p.sink.JobCompleted(ctx, task.OwnerID, task.JobID, result.Title)
	p.log.Info("Processed job", "job", task.JobID, "owner", task.OwnerID, "cost", cost.String())
	return nil
}

// settleFailure refunds the attempt's charge and either schedules a
// retry or fails the job for good.
func (p *Processor) settleFailure(ctx context.Context, task *queue.Task, cost decimal.Decimal, cause error) {
	if cost.IsPositive() {
		if err := p.ledger.Refund(ctx, task.OwnerID, cost, task.JobID); err != nil && !errors.Is(err, storage.ErrAlreadyRefunded) {
			p.log.Error("Refund failed", "job", task.JobID, "owner", task.OwnerID, "error", err)
		}
	}

	cat := Classify(cause)
	job, err := p.store.Jobs().Get(ctx, task.JobID)
	if err != nil || job == nil {
		p.log.Error("Lost job after failure", "job", task.JobID, "error", err)
		return
	}

	if p.cfg.Retry.ShouldRetry(cat, job.RetryCount) {
		delay := p.cfg.Retry.Delay(job.RetryCount)
		metrics.JobsRetried.WithLabelValues(string(cat)).Inc()
		if err := p.controller.Retry(ctx, task.JobID, delay); err != nil {
			p.log.Error("Retry scheduling failed", "job", task.JobID, "error", err)
			p.failJob(ctx, task, cause, cat, cat.UserMessage())
		}
		return
	}

	p.failJob(ctx, task, cause, cat, cat.UserMessage())
}

// failJob records the terminal failure. The job row keeps the technical
// cause for operators; the owner notification carries userMsg only.
func (p *Processor) failJob(ctx context.Context, task *queue.Task, cause error, cat Category, userMsg string) {
	if err := p.controller.Complete(ctx, task.JobID, false, cause.Error(), string(cat)); err != nil {
		p.log.Error("Failed to mark job failed", "job", task.JobID, "error", err)
		return
	}
	p.sink.JobFailed(ctx, task.OwnerID, task.JobID, userMsg)
}
