package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"airecorder/internal/capture"
	"airecorder/internal/config"
	"airecorder/internal/logging"
	"airecorder/internal/merge"
	"airecorder/internal/services"
	"airecorder/internal/spool"
)

var (
	// ErrClosed is returned by commands after Shutdown.
	ErrClosed = errors.New("session coordinator closed")
	// ErrNotRecording is returned by Stop when no session is recording.
	ErrNotRecording = errors.New("no session is recording")
)

// ToggleAction reports what a Toggle did.
type ToggleAction string

const (
	ToggleStarted ToggleAction = "started"
	ToggleStopped ToggleAction = "stopped"
	ToggleIgnored ToggleAction = "ignored"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJournal persists every state transition.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) {
		if j != nil {
			c.journal = j
		}
	}
}

// WithObserver receives telemetry for metrics.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithNewID overrides session ID generation.
func WithNewID(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithSpoolCreate overrides how spool files are opened.
func WithSpoolCreate(fn func(path string) (spool.Sink, error)) Option {
	return func(c *Coordinator) { c.spoolCreate = fn }
}

// Coordinator runs recording sessions one at a time.
type Coordinator struct {
	opener   capture.Opener
	encoder  merge.Encoder
	base     *slog.Logger
	logger   *slog.Logger
	journal  Journal
	observer Observer
	now      func() time.Time
	newID    func() string

	spoolCreate func(path string) (spool.Sink, error)

	events   chan any
	quit     chan shutdownCmd
	loopDone chan struct{}

	mu      sync.Mutex
	cfg     *config.Config
	cur     *activeSession
	subs    map[int]chan Snapshot
	nextSub int
}

// NewCoordinator starts a coordinator's event loop.
func NewCoordinator(cfg *config.Config, opener capture.Opener, encoder merge.Encoder, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		opener:   opener,
		encoder:  encoder,
		base:     logger,
		logger:   logging.NewComponentLogger(logger, "session"),
		observer: nopObserver{},
		now:      time.Now,
		newID:    newSessionID,
		events:   make(chan any, 64),
		quit:     make(chan shutdownCmd),
		loopDone: make(chan struct{}),
		subs:     make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.loop()
	return c
}

// UpdateConfig replaces the configuration used by the next session.
func (c *Coordinator) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

func (c *Coordinator) config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

type (
	startCmd struct {
		ctx   context.Context
		reply chan startReply
	}
	startReply struct {
		snap Snapshot
		err  error
	}
	stopCmd struct {
		reply chan error
	}
	toggleCmd struct {
		ctx   context.Context
		reply chan toggleReply
	}
	toggleReply struct {
		action ToggleAction
		err    error
	}
	ackCmd struct {
		reply chan error
	}
	retryCmd struct {
		id    string
		reply chan startReply
	}
	deviceRemovedCmd struct {
		props map[string]string
	}
	shutdownCmd struct {
		ctx   context.Context
		reply chan struct{}
	}
)

// send delivers a command unless the loop has exited.
func (c *Coordinator) send(ctx context.Context, cmd any) error {
	select {
	case c.events <- cmd:
		return nil
	case <-c.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an internal event; it is dropped once the loop has exited.
func (c *Coordinator) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.loopDone:
	}
}

func await[T any](ctx context.Context, c *Coordinator, reply chan T) (T, error) {
	select {
	case r := <-reply:
		return r, nil
	case <-c.loopDone:
		var zero T
		return zero, ErrClosed
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Start begins a new session with the configured sources. It fails with
// services.ErrSessionAlreadyActive while another session is recording,
// stopping, or merging. A session that could not open any source is
// returned in the failed state together with the error.
func (c *Coordinator) Start(ctx context.Context) (Snapshot, error) {
	reply := make(chan startReply, 1)
	if err := c.send(ctx, startCmd{ctx: ctx, reply: reply}); err != nil {
		return Snapshot{}, err
	}
	r, err := await(ctx, c, reply)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snap, r.err
}

// Stop ends recording. The session moves to stopping and finishes
// asynchronously; use Wait for the outcome. Stopping a session that is
// already stopping or merging is a no-op.
func (c *Coordinator) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, stopCmd{reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, c, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// Toggle starts a session when none is active and stops a recording one.
// It is ignored while a session is stopping or merging.
func (c *Coordinator) Toggle(ctx context.Context) (ToggleAction, error) {
	reply := make(chan toggleReply, 1)
	if err := c.send(ctx, toggleCmd{ctx: ctx, reply: reply}); err != nil {
		return ToggleIgnored, err
	}
	r, err := await(ctx, c, reply)
	if err != nil {
		return ToggleIgnored, err
	}
	return r.action, r.err
}

// Acknowledge archives a finished session so the coordinator reports idle.
func (c *Coordinator) Acknowledge(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, ackCmd{reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, c, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// Retry re-runs the merge of a preserved session from its spool manifest.
// It is rejected while another session is active.
func (c *Coordinator) Retry(ctx context.Context, sessionID string) (Snapshot, error) {
	reply := make(chan startReply, 1)
	if err := c.send(ctx, retryCmd{id: sessionID, reply: reply}); err != nil {
		return Snapshot{}, err
	}
	r, err := await(ctx, c, reply)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snap, r.err
}

// DeviceRemoved reports a hot-unplugged audio device by its udev properties.
func (c *Coordinator) DeviceRemoved(props map[string]string) {
	c.post(deviceRemovedCmd{props: props})
}

// Wait blocks until the current session is terminal and returns it. With no
// session it returns the idle snapshot immediately.
func (c *Coordinator) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur == nil {
		return c.Snapshot(), nil
	}
	select {
	case <-cur.done:
		return c.snapshotOf(cur), nil
	case <-c.loopDone:
		return c.snapshotOf(cur), nil
	case <-ctx.Done():
		return c.snapshotOf(cur), ctx.Err()
	}
}

// Snapshot returns the current session, or an idle snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur == nil {
		return Snapshot{State: StateIdle}
	}
	return c.snapshotOf(cur)
}

// Subscribe streams snapshots on every state change. Slow subscribers miss
// intermediate snapshots. Call cancel to unsubscribe.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
			c.mu.Unlock()
		})
	}
}

// Shutdown hard-cancels any active session, flushing spools on a best-effort
// basis, persists it as failed with cause interrupted, and stops the loop.
func (c *Coordinator) Shutdown(ctx context.Context) {
	reply := make(chan struct{})
	select {
	case c.quit <- shutdownCmd{ctx: ctx, reply: reply}:
		<-reply
	case <-c.loopDone:
	}
}

func (c *Coordinator) loop() {
	defer close(c.loopDone)
	for {
		select {
		case cmd := <-c.quit:
			c.shutdown(cmd.ctx)
			c.closeSubscribers()
			close(cmd.reply)
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev any) {
	switch e := ev.(type) {
	case startCmd:
		snap, err := c.start(e.ctx)
		e.reply <- startReply{snap: snap, err: err}
	case stopCmd:
		e.reply <- c.stop()
	case toggleCmd:
		e.reply <- c.toggle(e.ctx)
	case ackCmd:
		e.reply <- c.acknowledge()
	case retryCmd:
		snap, err := c.retry(e.id)
		e.reply <- startReply{snap: snap, err: err}
	case deviceRemovedCmd:
		c.deviceRemoved(e.props)
	case sourceLostEvent:
		c.sourceLost(e)
	case warningEvent:
		c.addWarning(e)
	case fatalEvent:
		c.fatal(e)
	case drainedEvent:
		c.drained(e)
	case mergedEvent:
		c.merged(e)
	default:
		c.logger.Warn("unknown coordinator event",
			logging.String(logging.FieldEventType, "unknown_event"),
			logging.String(logging.FieldErrorHint, "report this as a bug"),
			logging.String(logging.FieldImpact, "event ignored"),
		)
	}
}

func (c *Coordinator) toggle(ctx context.Context) toggleReply {
	state := StateIdle
	if c.cur != nil {
		state = c.cur.state
	}
	switch state {
	case StateRecording:
		return toggleReply{action: ToggleStopped, err: c.stop()}
	case StateStopping, StateMerging:
		c.cur.logger.Info("toggle ignored while session finishes",
			logging.String(logging.FieldEventType, "toggle_ignored"),
			logging.String(logging.FieldState, string(state)),
		)
		return toggleReply{action: ToggleIgnored}
	default:
		_, err := c.start(ctx)
		return toggleReply{action: ToggleStarted, err: err}
	}
}

func (c *Coordinator) acknowledge() error {
	if c.cur == nil {
		return nil
	}
	if c.cur.state.IsActive() {
		return services.Wrap(services.ErrSessionAlreadyActive, "session", "acknowledge", "session "+c.cur.id+" is "+string(c.cur.state), nil)
	}
	c.archive()
	c.publish()
	return nil
}

// archive drops the finished session from memory; its record stays in the journal.
func (c *Coordinator) archive() {
	if c.cur == nil {
		return
	}
	c.cur.closeLog()
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
}

func (c *Coordinator) publish() {
	snap := c.Snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Coordinator) closeSubscribers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// setState transitions the current session, persists it, and notifies.
func (c *Coordinator) setState(sess *activeSession, next State) {
	c.mu.Lock()
	prev := sess.state
	sess.state = next
	c.mu.Unlock()
	sess.logger.Info("session state changed",
		logging.String(logging.FieldEventType, "state_changed"),
		logging.String("from", string(prev)),
		logging.String(logging.FieldState, string(next)),
	)
	c.observer.StateChanged(prev, next)
	c.persist(sess)
	c.publish()
}

func (c *Coordinator) persist(sess *activeSession) {
	if c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.journal.Save(ctx, Record(c.snapshotOf(sess))); err != nil {
		logging.WarnWithContext(sess.logger, "session journal write failed", "journal_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state directory database"),
			logging.String(logging.FieldImpact, "session history may be stale"),
		)
	}
}

func (c *Coordinator) writeManifest(sess *activeSession) {
	if err := spool.WriteManifest(sess.spoolDir, c.manifestOf(sess)); err != nil {
		logging.WarnWithContext(sess.logger, "spool manifest write failed", "manifest_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the spool directory"),
			logging.String(logging.FieldImpact, "merge retry may be unavailable for this session"),
		)
	}
}
