// Package chainblock runs chain-block sessions: it walks the pages a scraper
// produces, decides a verb for every account, and performs the decided
// actions in batches while publishing progress events.
package chainblock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redblock-app/chainblock/blocker"
	"github.com/redblock-app/chainblock/events"
	"github.com/redblock-app/chainblock/keyword"
	"github.com/redblock-app/chainblock/limiter"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/scraper"
	"github.com/redblock-app/chainblock/xrpc"
)

// Fixed wait after a throttled page, whatever reset time the API reports.
const DefaultBackoff = 60 * time.Second

// Limiter is the operator's action quota.
type Limiter interface {
	Check(ctx context.Context) (limiter.Result, error)
	blocker.Recorder
}

type Deps struct {
	// builds the scraper for a run; called again after Rewind
	NewScraper func(req *models.SessionRequest) (scraper.Scraper, error)
	Limiter    Limiter
	Writer     blocker.Writer
	// rate-limit window for an XRPC method, reported with rate-limit events
	LimitStatus func(ctx context.Context, method string) (*models.RateLimit, error)
	// optional
	Bus    events.Publisher
	Logger *slog.Logger

	BatchSize  int
	WriteDelay time.Duration
	Backoff    time.Duration
	// tests replace the backoff sleep
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
	// session ID; derived from Now when empty
	ID string
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Session struct {
	deps    Deps
	request *models.SessionRequest
	bio     *keyword.Matcher
	logger  *slog.Logger

	mu            sync.Mutex
	info          models.SessionInfo
	scraper       scraper.Scraper
	prepareOnce   *sync.Once
	running       bool
	stopRequested bool
	// closed on the first stop request of a run
	stopCh chan struct{}
	// closed once the current run published its terminal event
	halted chan struct{}
}

// NewSession keeps its own copy of req.
func NewSession(req *models.SessionRequest, deps Deps) (*Session, error) {
	if deps.NewScraper == nil || deps.Writer == nil || deps.Limiter == nil {
		return nil, fmt.Errorf("session needs a scraper factory, a writer and a limiter")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	bio, err := keyword.NewMatcher(req.Options.BioKeywords)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Backoff <= 0 {
		deps.Backoff = DefaultBackoff
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.LimitStatus == nil {
		deps.LimitStatus = func(ctx context.Context, method string) (*models.RateLimit, error) {
			return nil, fmt.Errorf("no rate limit status source")
		}
	}

	req = req.Clone()
	sc, err := deps.NewScraper(req)
	if err != nil {
		return nil, fmt.Errorf("building scraper: %w", err)
	}
	s := &Session{
		deps:        deps,
		request:     req,
		bio:         bio,
		scraper:     sc,
		prepareOnce: &sync.Once{},
	}
	id := deps.ID
	if id == "" {
		id = models.NewSessionID(deps.Now())
	}
	s.info = models.SessionInfo{
		SessionID: id,
		Request:   req,
		Progress:  s.initProgress(),
		Status:    models.StatusInitial,
	}
	s.logger = deps.Logger.With("session", s.info.SessionID, "purpose", req.Purpose, "target", req.Target.Type)
	return s, nil
}

func (s *Session) initProgress() models.Progress {
	p := models.NewProgress()
	p.Total = s.request.CountOfUsersToProcess()
	return p
}

func (s *Session) ID() string {
	return s.info.SessionID
}

// Info returns a snapshot of the session state.
func (s *Session) Info() *models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Clone()
}

func (s *Session) Request() *models.SessionRequest {
	return s.request.Clone()
}

func (s *Session) SetConfirmed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Confirmed = true
}

// Prepare starts resolving the total count. Only the first call per run has
// any effect.
func (s *Session) Prepare(ctx context.Context) {
	s.mu.Lock()
	once, sc := s.prepareOnce, s.scraper
	s.mu.Unlock()
	once.Do(func() {
		sc.Prepare(ctx)
	})
}

// CancelPrepare releases anyone waiting on the prepare phase.
func (s *Session) CancelPrepare() {
	s.mu.Lock()
	sc := s.scraper
	s.mu.Unlock()
	sc.StopPrepare()
}

// IsSameTarget reports whether t names the same subject as this session's
// target. Import targets never match.
func (s *Session) IsSameTarget(t models.Target) bool {
	mine := &s.request.Target
	if mine.Type != t.Type {
		return false
	}
	switch mine.Type {
	case models.TargetFollower, models.TargetLockPicker:
		return mine.User != nil && t.User != nil && mine.User.DID == t.User.DID
	case models.TargetTweetReaction:
		return mine.Post != nil && t.Post != nil && samePost(mine.Post.URI, t.Post.URI)
	case models.TargetUserSearch:
		return mine.Query == t.Query
	}
	return false
}

func samePost(a, b string) bool {
	ua, err := models.ParsePostReference(a)
	if err != nil {
		return a == b
	}
	ub, err := models.ParsePostReference(b)
	if err != nil {
		return false
	}
	return ua.String() == ub.String()
}

// Stop asks the running loop to halt and waits until it has, which includes
// flushing queued actions. It returns at once when nothing is running.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	halted := s.halted
	s.requestStopLocked()
	s.mu.Unlock()

	select {
	case <-halted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) requestStopLocked() {
	if !s.stopRequested {
		s.stopRequested = true
		close(s.stopCh)
	}
}

func (s *Session) requestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestStopLocked()
}

func (s *Session) shouldStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// Rewind zeroes progress and returns to Initial so the same request can run
// again. Confirmation is kept.
func (s *Session) Rewind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	sc, err := s.deps.NewScraper(s.request)
	if err != nil {
		return fmt.Errorf("building scraper: %w", err)
	}
	s.scraper = sc
	s.prepareOnce = &sync.Once{}
	s.info.Progress = s.initProgress()
	s.info.Status = models.StatusInitial
	s.info.Limit = nil
	return nil
}

func (s *Session) publish(evt *events.Event) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(evt)
	}
}

// update mutates the session state under the lock.
func (s *Session) update(fn func(info *models.SessionInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.info)
}

// bump increments one progress bucket, keeping Scraped equal to their sum.
func (s *Session) bump(fn func(p *models.Progress)) {
	s.update(func(info *models.SessionInfo) {
		fn(&info.Progress)
		info.Progress.Scraped = info.Progress.Processed()
	})
}

// Start runs the session until the pages run out, a stop is requested, or a
// fatal error occurs, which is returned. It fails without side effects when
// the session isn't confirmed.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Begin(); err != nil {
		return err
	}
	return s.Run(ctx)
}

// Begin marks the session as running without entering the loop, so that a
// Stop issued before Run is picked up by it. Every successful Begin must be
// followed by Run.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.info.Confirmed {
		return ErrNotConfirmed
	}
	if s.running {
		return ErrAlreadyRunning
	}
	if s.info.Status.IsTerminal() {
		return ErrFinished
	}
	s.running = true
	s.stopRequested = false
	s.stopCh = make(chan struct{})
	s.halted = make(chan struct{})
	return nil
}

// Run executes a session marked running by Begin.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotBegun
	}
	sc := s.scraper
	s.mu.Unlock()

	sessionsRunning.Inc()
	defer sessionsRunning.Dec()

	b := blocker.New(blocker.Config{
		Writer:    s.deps.Writer,
		BatchSize: s.deps.BatchSize,
		Delay:     s.deps.WriteDelay,
		Recorder:  s.deps.Limiter,
		Logger:    s.logger,
		OnSuccess: func(c *models.Candidate, verb models.Verb) {
			s.bump(func(p *models.Progress) { p.Success[verb]++ })
			s.publish(events.NewMarkUserEvent(s.info.SessionID, models.MarkUser{UserID: c.DID, Verb: verb}))
		},
		OnError: func(c *models.Candidate, verb models.Verb, err error) {
			var xe *xrpc.Error
			if errors.As(err, &xe) {
				s.bump(func(p *models.Progress) { p.Failure++ })
			} else {
				s.bump(func(p *models.Progress) { p.Error++ })
			}
		},
	})

	stopped, err := s.run(ctx, sc, b)
	// every exit path flushes what was decided
	b.Flush(context.WithoutCancel(ctx))
	return s.finish(stopped, err)
}

func (s *Session) finish(stopped bool, err error) error {
	if err != nil && s.shouldStop() {
		// a requested stop wins, including over the cancellation it caused
		s.logger.Warn("error while stopping", "err", err)
		stopped, err = true, nil
	}

	var evt *events.Event
	s.mu.Lock()
	// a stop arriving during the final flush is still honored
	stopped = stopped || s.stopRequested
	switch {
	case err != nil:
		s.info.Status = models.StatusError
		evt = events.NewErrorEvent(s.info.SessionID, err)
	case stopped:
		s.info.Status = models.StatusStopped
		evt = events.NewInfoEvent(events.KindStopped, s.info.Clone())
	default:
		s.info.Status = models.StatusCompleted
		evt = events.NewInfoEvent(events.KindComplete, s.info.Clone())
	}
	status := s.info.Status
	progress := s.info.Progress.Clone()
	halted := s.halted
	s.mu.Unlock()

	sessionsFinished.WithLabelValues(status.String()).Inc()
	if err != nil {
		s.logger.Error("session failed", "err", err)
	} else {
		s.logger.Info("session finished", "status", status, "scraped", progress.Scraped, "success", progress.SuccessCount(), "failure", progress.Failure)
	}
	s.publish(evt)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	close(halted)
	return err
}

// run is the page loop. It reports whether it ended because of a stop
// request.
func (s *Session) run(ctx context.Context, sc scraper.Scraper, b *blocker.Blocker) (bool, error) {
	s.Prepare(ctx)
	sc.StopPrepare()
	if err := sc.WaitPrepared(ctx); err != nil && !errors.Is(err, scraper.ErrPrepareStopped) {
		return false, err
	}

	for {
		if s.shouldStop() {
			return true, nil
		}

		res, err := s.deps.Limiter.Check(ctx)
		if err != nil {
			return false, fmt.Errorf("checking action quota: %w", err)
		}
		if res == limiter.Limited {
			s.logger.Info("action quota reached, stopping")
			s.requestStop()
			continue
		}

		switch page := sc.Next(ctx).(type) {
		case scraper.Done:
			return s.shouldStop(), nil
		case scraper.Failed:
			return false, page.Err
		case scraper.RateLimited:
			if err := s.waitRateLimit(ctx, sc.APIKind(), page.Err); err != nil {
				return false, err
			}
		case scraper.Page:
			s.handleRunning(sc)
			for _, c := range page.Users {
				verb, err := WhatToDoGivenUser(s.request, c, s.bio)
				if err != nil {
					return false, err
				}
				decisionsCount.WithLabelValues(string(verb)).Inc()
				switch verb {
				case models.VerbSkip:
					s.bump(func(p *models.Progress) { p.Skipped++ })
				case models.VerbAlreadyDone:
					s.bump(func(p *models.Progress) { p.Already++ })
				default:
					b.Add(verb, c)
					b.FlushIfNeeded(ctx)
				}
			}
		}
	}
}

// handleRunning records a successful page: the total (once), and the move
// into Running.
func (s *Session) handleRunning(sc scraper.Scraper) {
	var evt *events.Event
	s.mu.Lock()
	if s.info.Progress.Total == nil {
		s.info.Progress.Total = sc.TotalCount()
	}
	prev := s.info.Status
	s.info.Limit = nil
	s.info.Status = models.StatusRunning
	switch prev {
	case models.StatusInitial:
		evt = events.NewInfoEvent(events.KindStarted, s.info.Clone())
	case models.StatusRateLimited:
		evt = events.NewRateLimitResetEvent(s.info.SessionID)
	}
	s.mu.Unlock()

	if evt != nil {
		s.logger.Info("session running", "event", evt.Kind)
		s.publish(evt)
	}
}

// waitRateLimit enters RateLimited, reports the window and sleeps the fixed
// backoff. A stop request cuts the sleep short.
func (s *Session) waitRateLimit(ctx context.Context, method string, rlErr *scraper.RateLimitError) error {
	limit, err := s.deps.LimitStatus(ctx, method)
	if err != nil {
		s.logger.Warn("could not fetch rate limit status", "method", method, "err", err)
		limit = &models.RateLimit{Reset: s.deps.Now().Add(s.deps.Backoff)}
		if rlErr != nil && rlErr.Ratelimit != nil {
			limit = &models.RateLimit{
				Limit:     rlErr.Ratelimit.Limit,
				Remaining: rlErr.Ratelimit.Remaining,
				Reset:     rlErr.Ratelimit.Reset,
			}
		}
	}

	s.mu.Lock()
	s.info.Status = models.StatusRateLimited
	s.info.Limit = limit
	snapshot := *limit
	stopCh := s.stopCh
	s.mu.Unlock()

	rateLimitWaits.WithLabelValues(method).Inc()
	s.logger.Warn("rate limited, backing off", "method", method, "backoff", s.deps.Backoff, "reset", limit.Reset)
	s.publish(events.NewRateLimitEvent(s.info.SessionID, &snapshot))

	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-sleepCtx.Done():
		}
	}()
	if err := s.deps.Sleep(sleepCtx, s.deps.Backoff); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
