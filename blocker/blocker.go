// Package blocker queues decided actions and performs them in batches.
package blocker

import (
	"context"
	"log/slog"
	"time"

	"github.com/redblock-app/chainblock/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("blocker")

const DefaultBatchSize = 10

// Recorder counts successful actions against a quota. Only Block and Mute
// are handed to it.
type Recorder interface {
	Record(ctx context.Context, verb models.Verb) error
}

type Config struct {
	Writer    Writer
	BatchSize int
	// concurrent writes per flush; defaults to BatchSize
	Concurrency int
	// minimum spacing between write requests; zero disables
	Delay    time.Duration
	Recorder Recorder

	OnSuccess func(c *models.Candidate, verb models.Verb)
	OnError   func(c *models.Candidate, verb models.Verb, err error)

	Logger *slog.Logger
}

type item struct {
	verb models.Verb
	cand *models.Candidate
	err  error
}

// Blocker is not safe for concurrent use. The session loop owns it; OnSuccess
// and OnError run on the goroutine calling Flush, in the order the actions
// were added.
type Blocker struct {
	cfg     Config
	queue   []*item
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(cfg Config) *Blocker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Blocker{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "blocker"),
	}
	if cfg.Delay > 0 {
		b.limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}
	return b
}

// Add queues an action. Verbs other than Block, UnBlock, Mute and UnMute are
// ignored.
func (b *Blocker) Add(verb models.Verb, c *models.Candidate) {
	if !verb.IsSomething() {
		b.logger.Warn("ignoring non-action verb", "verb", verb, "did", c.DID)
		return
	}
	b.queue = append(b.queue, &item{verb: verb, cand: c})
}

func (b *Blocker) Pending() int {
	return len(b.queue)
}

// FlushIfNeeded flushes once a full batch is queued.
func (b *Blocker) FlushIfNeeded(ctx context.Context) {
	if len(b.queue) >= b.cfg.BatchSize {
		b.Flush(ctx)
	}
}

// Flush performs every queued action and reports each outcome.
func (b *Blocker) Flush(ctx context.Context) {
	if len(b.queue) == 0 {
		return
	}
	batch := b.queue
	b.queue = nil
	start := time.Now()

	ctx, span := tracer.Start(ctx, "Flush", trace.WithAttributes(attribute.Int("batch", len(batch))))
	defer span.End()

	var eg errgroup.Group
	eg.SetLimit(b.cfg.Concurrency)

	rest := batch
	if bw, ok := b.cfg.Writer.(BulkWriter); ok {
		rest = b.writeBulk(ctx, &eg, bw, batch)
	}
	for _, it := range rest {
		eg.Go(func() error {
			it.err = b.write(ctx, it.verb, it.cand)
			return nil
		})
	}
	eg.Wait()
	flushDuration.Observe(time.Since(start).Seconds())

	failed := 0
	for _, it := range batch {
		if it.err != nil {
			failed++
			writesCount.WithLabelValues(string(it.verb), "error").Inc()
			b.logger.Warn("action failed", "verb", it.verb, "did", it.cand.DID, "err", it.err)
			if b.cfg.OnError != nil {
				b.cfg.OnError(it.cand, it.verb, it.err)
			}
			continue
		}
		writesCount.WithLabelValues(string(it.verb), "ok").Inc()
		if b.cfg.Recorder != nil && consumesQuota(it.verb) {
			if err := b.cfg.Recorder.Record(ctx, it.verb); err != nil {
				b.logger.Error("failed to record action against quota", "verb", it.verb, "err", err)
			}
		}
		if b.cfg.OnSuccess != nil {
			b.cfg.OnSuccess(it.cand, it.verb)
		}
	}
	span.SetAttributes(attribute.Int("failed", failed))
	if failed == len(batch) {
		span.SetStatus(codes.Error, "every action in the batch failed")
	}
}

func consumesQuota(verb models.Verb) bool {
	return verb == models.VerbBlock || verb == models.VerbMute
}

// writeBulk schedules one bulk call per verb the writer supports, and
// returns the items left for per-account writes.
func (b *Blocker) writeBulk(ctx context.Context, eg *errgroup.Group, bw BulkWriter, batch []*item) []*item {
	groups := make(map[models.Verb][]*item)
	var rest []*item
	for _, it := range batch {
		if bw.SupportsBulk(it.verb) {
			groups[it.verb] = append(groups[it.verb], it)
		} else {
			rest = append(rest, it)
		}
	}
	for verb, items := range groups {
		eg.Go(func() error {
			cands := make([]*models.Candidate, len(items))
			for i, it := range items {
				cands[i] = it.cand
			}
			err := b.wait(ctx)
			if err == nil {
				err = bw.WriteBulk(ctx, verb, cands)
			}
			for _, it := range items {
				it.err = err
			}
			return nil
		})
	}
	return rest
}

func (b *Blocker) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

func (b *Blocker) write(ctx context.Context, verb models.Verb, c *models.Candidate) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	return Apply(ctx, b.cfg.Writer, verb, c)
}
