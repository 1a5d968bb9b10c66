// Package manager keeps the set of live sessions for one operator: it
// creates them from requests, refuses duplicates, runs them in the
// background, and records each finished run.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redblock-app/chainblock/chainblock"
	"github.com/redblock-app/chainblock/internal/ticker"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/store"
)

type Config struct {
	// operator DID
	Operator string
	// template for every session; ID is always filled in by the manager
	Session chainblock.Deps
	// optional history of finished runs
	Store  *store.Store
	Logger *slog.Logger

	RemoveAfterComplete bool
	// re-run completed sessions this long after they finished; 0 disables
	RecurringInterval time.Duration
	// how often recurring sessions are checked; defaults to a minute
	RecurringCheck      time.Duration
	AllowSelfChainBlock bool
	// cap on session starts over any 24h window; 0 means no cap
	MaxStartsPerDay int64
}

// View is a session snapshot with the manager's bookkeeping.
type View struct {
	*models.SessionInfo
	Label      string     `json:"label"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Runs       int        `json:"runs"`
}

type entry struct {
	session *chainblock.Session
	label   string
	created time.Time

	mu       sync.Mutex
	finished time.Time
	runs     int
	// closed when the current run's goroutine returns
	done chan struct{}
}

func (e *entry) view() *View {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := &View{
		SessionInfo: e.session.Info(),
		Label:       e.label,
		CreatedAt:   e.created,
		Runs:        e.runs,
	}
	if !e.finished.IsZero() {
		f := e.finished
		v.FinishedAt = &f
	}
	return v
}

type Manager struct {
	cfg    Config
	logger *slog.Logger

	sessions *xsync.MapOf[string, *entry]
	// serializes the duplicate check with the insert
	addLk  sync.Mutex
	lastID int64

	starts     *slidingwindow.Limiter
	stopWindow slidingwindow.StopFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func New(cfg Config) (*Manager, error) {
	if cfg.Operator == "" {
		return nil, fmt.Errorf("manager needs the operator DID")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RecurringCheck <= 0 {
		cfg.RecurringCheck = time.Minute
	}
	if cfg.Session.Now == nil {
		cfg.Session.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "manager", "operator", cfg.Operator),
		sessions: xsync.NewMapOf[string, *entry](),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.MaxStartsPerDay > 0 {
		m.starts, m.stopWindow = slidingwindow.NewLimiter(24*time.Hour, cfg.MaxStartsPerDay, func() (slidingwindow.Window, slidingwindow.StopFunc) {
			return slidingwindow.NewLocalWindow()
		})
	}
	if cfg.RecurringInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker.Periodically(ctx, cfg.RecurringCheck, m.rerunDue, func(err error) {
				m.logger.Error("recurring session check failed", "err", err)
			})
		}()
	}
	return m, nil
}

// nextID hands out session IDs which stay unique when two sessions are
// created within the same millisecond.
func (m *Manager) nextID() string {
	ms := m.cfg.Session.Now().UnixMilli()
	if ms <= m.lastID {
		ms = m.lastID + 1
	}
	m.lastID = ms
	return fmt.Sprintf("session/%d", ms)
}

func (m *Manager) get(id string) (*entry, error) {
	e, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func targetsOperator(req *models.SessionRequest, operator string) bool {
	t := &req.Target
	switch t.Type {
	case models.TargetFollower:
		return t.User != nil && t.User.DID == operator
	case models.TargetTweetReaction:
		if t.Post == nil {
			return false
		}
		u, err := models.ParsePostReference(t.Post.URI)
		return err == nil && u.Authority == operator
	case models.TargetImport:
		return slices.Contains(t.DIDs, operator)
	}
	return false
}

// Add creates a session for req. It fails with ErrDuplicateTarget when a
// session for the same target hasn't finished yet.
func (m *Manager) Add(ctx context.Context, req *models.SessionRequest) (*View, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !m.cfg.AllowSelfChainBlock && targetsOperator(req, m.cfg.Operator) {
		return nil, ErrSelfTarget
	}

	m.addLk.Lock()
	defer m.addLk.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	var dup string
	m.sessions.Range(func(id string, e *entry) bool {
		if !e.session.Info().Status.IsTerminal() && e.session.IsSameTarget(req.Target) {
			dup = id
			return false
		}
		return true
	})
	if dup != "" {
		return nil, fmt.Errorf("%w (%s)", ErrDuplicateTarget, dup)
	}

	deps := m.cfg.Session
	deps.ID = m.nextID()
	deps.Logger = m.cfg.Logger
	s, err := chainblock.NewSession(req, deps)
	if err != nil {
		return nil, err
	}
	e := &entry{
		session: s,
		label:   petname.Generate(2, "-"),
		created: m.cfg.Session.Now(),
	}
	v := e.view()
	m.sessions.Store(s.ID(), e)
	sessionsTracked.Set(float64(m.sessions.Size()))
	m.logger.Info("session added", "session", s.ID(), "label", e.label, "purpose", req.Purpose, "target", req.Target.Type, "subject", req.Target.Subject())
	return v, nil
}

// Confirm marks the session as confirmed by the operator and starts
// resolving its total in the background.
func (m *Manager) Confirm(id string) (*View, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	e.session.SetConfirmed()
	e.session.Prepare(m.ctx)
	return e.view(), nil
}

// Start launches the session in the background. Its outcome is reported
// through events and the history store.
func (m *Manager) Start(id string) (*View, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if err := m.launch(e, "manual"); err != nil {
		return nil, err
	}
	return e.view(), nil
}

func (m *Manager) launch(e *entry, trigger string) error {
	info := e.session.Info()
	switch {
	case !info.Confirmed:
		return chainblock.ErrNotConfirmed
	case info.Status.IsActive():
		return chainblock.ErrAlreadyRunning
	case info.Status.IsTerminal():
		return chainblock.ErrFinished
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !runDone(e.done) {
		return chainblock.ErrAlreadyRunning
	}
	if m.starts != nil && !m.starts.Allow() {
		return ErrTooManyStarts
	}

	m.addLk.Lock()
	closed := m.closed
	if !closed {
		m.wg.Add(1)
	}
	m.addLk.Unlock()
	if closed {
		return ErrClosed
	}

	// begun before returning, so an immediate Stop or Close reaches the run
	if err := e.session.Begin(); err != nil {
		m.wg.Done()
		return err
	}

	sessionStarts.WithLabelValues(trigger).Inc()
	e.runs++
	done := make(chan struct{})
	e.done = done
	go func() {
		defer m.wg.Done()
		defer close(done)
		err := e.session.Run(m.ctx)
		m.finished(e, err)
	}()
	return nil
}

func runDone(done chan struct{}) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// finished records a run which ended.
func (m *Manager) finished(e *entry, runErr error) {
	if errors.Is(runErr, chainblock.ErrAlreadyRunning) || errors.Is(runErr, chainblock.ErrNotConfirmed) || errors.Is(runErr, chainblock.ErrFinished) {
		m.logger.Warn("session run refused", "session", e.session.ID(), "err", runErr)
		return
	}
	now := m.cfg.Session.Now()
	e.mu.Lock()
	e.finished = now
	e.mu.Unlock()

	info := e.session.Info()
	if m.cfg.Store != nil {
		errMsg := ""
		if runErr != nil {
			errMsg = runErr.Error()
		}
		rec, err := store.RecordFromInfo(m.cfg.Operator, info, errMsg, now)
		if err == nil {
			err = m.cfg.Store.Save(context.Background(), rec)
		}
		if err != nil {
			historyWriteErrors.Inc()
			m.logger.Error("failed to save session history", "session", info.SessionID, "err", err)
		}
	}

	// recurring sessions stay around for their next run
	if info.Status == models.StatusCompleted && m.cfg.RemoveAfterComplete && m.cfg.RecurringInterval <= 0 {
		m.sessions.Delete(info.SessionID)
		sessionsTracked.Set(float64(m.sessions.Size()))
		m.logger.Info("removed completed session", "session", info.SessionID)
	}
}

// rerunDue rewinds and restarts completed sessions whose interval elapsed.
func (m *Manager) rerunDue(ctx context.Context) error {
	now := m.cfg.Session.Now()
	var errs []error
	m.sessions.Range(func(id string, e *entry) bool {
		if e.session.Info().Status != models.StatusCompleted {
			return true
		}
		e.mu.Lock()
		due := !e.finished.IsZero() && !now.Before(e.finished.Add(m.cfg.RecurringInterval)) && runDone(e.done)
		e.mu.Unlock()
		if !due {
			return true
		}
		if err := e.session.Rewind(); err != nil {
			errs = append(errs, fmt.Errorf("rewinding %s: %w", id, err))
			return true
		}
		m.logger.Info("re-running recurring session", "session", id)
		if err := m.launch(e, "recurring"); err != nil {
			errs = append(errs, fmt.Errorf("restarting %s: %w", id, err))
		}
		return true
	})
	return errors.Join(errs...)
}

// Stop halts a running session and waits for it to flush.
func (m *Manager) Stop(ctx context.Context, id string) (*View, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if err := e.session.Stop(ctx); err != nil {
		return nil, err
	}
	if err := m.waitRun(ctx, e); err != nil {
		return nil, err
	}
	return e.view(), nil
}

// waitRun waits for the current run's goroutine, so that history is written
// by the time Stop returns.
func (m *Manager) waitRun(ctx context.Context, e *entry) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Rewind(id string) (*View, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if e.session.Info().Status.IsTerminal() {
		// let the finished run write its history first
		if err := m.waitRun(m.ctx, e); err != nil {
			return nil, err
		}
	}
	if err := e.session.Rewind(); err != nil {
		return nil, err
	}
	return e.view(), nil
}

// Remove stops the session if needed and forgets it.
func (m *Manager) Remove(ctx context.Context, id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	e.session.CancelPrepare()
	if err := e.session.Stop(ctx); err != nil {
		return err
	}
	if err := m.waitRun(ctx, e); err != nil {
		return err
	}
	m.sessions.Delete(id)
	sessionsTracked.Set(float64(m.sessions.Size()))
	return nil
}

func (m *Manager) Get(id string) (*View, error) {
	e, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return e.view(), nil
}

// List returns every session, oldest first.
func (m *Manager) List() []*View {
	var out []*View
	m.sessions.Range(func(id string, e *entry) bool {
		out = append(out, e.view())
		return true
	})
	slices.SortFunc(out, func(a, b *View) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// Close stops every running session and waits for the background work to
// end. The manager can't be used afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.addLk.Lock()
	m.closed = true
	m.addLk.Unlock()

	var errs []error
	m.sessions.Range(func(id string, e *entry) bool {
		e.session.CancelPrepare()
		if err := e.session.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", id, err))
		}
		return true
	})
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if m.stopWindow != nil {
		m.stopWindow()
	}
	return errors.Join(errs...)
}
