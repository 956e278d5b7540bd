package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/operator/domsnap"
	"github.com/hazyhaar/operator/operator"
)

// Config configures a Registry.
type Config struct {
	// DefaultSession is used when a caller passes an empty id. When empty,
	// the first such call creates a session and adopts it as the default.
	DefaultSession string
	// AttachUnknown lets Do address ids the registry did not create, for
	// sessions created out of band with the provider.
	AttachUnknown bool
	// Viewport is the fallback when neither the transport nor the page
	// reports one.
	Viewport operator.Viewport
	Actions  operator.Options
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport = operator.Viewport{Width: 1280, Height: 720}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Actions.Logger == nil {
		c.Actions.Logger = c.Logger
	}
}

// Registry holds at most one live page per session id. Map access is
// guarded by mu; each session has its own lock held across connect and
// every action, so two actions never interleave on one page.
type Registry struct {
	transport Transport
	store     *Store
	cfg       Config
	logger    *slog.Logger

	mu         sync.Mutex
	sessions   map[string]*entry
	defaultID  string
	createLock sync.Mutex
	closed     bool
}

type entry struct {
	mu   sync.Mutex
	info Info

	// ctx is cancelled when the session closes, aborting in-flight work.
	ctx    context.Context
	cancel context.CancelFunc

	conn     *Conn
	acts     *operator.Actions
	viewport operator.Viewport
	snapshot *domsnap.Snapshot
}

// NewRegistry creates a registry. store may be nil.
func NewRegistry(t Transport, store *Store, cfg Config) *Registry {
	cfg.defaults()
	return &Registry{
		transport: t,
		store:     store,
		cfg:       cfg,
		logger:    cfg.Logger,
		sessions:  make(map[string]*entry),
		defaultID: cfg.DefaultSession,
	}
}

// Store returns the registry's store, possibly nil.
func (r *Registry) Store() *Store { return r.store }

// Create starts a new session through the transport and registers it.
func (r *Registry) Create(ctx context.Context) (Info, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return Info{}, ErrClosed
	}

	info, err := r.transport.CreateSession(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("session: create: %w", err)
	}
	if info.Transport == "" {
		info.Transport = r.transport.Name()
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}
	if _, _, err := r.register(info); err != nil {
		if cerr := r.transport.CloseSession(context.WithoutCancel(ctx), info.ID); cerr != nil {
			r.logger.Warn("session: release after failed register", "session", info.ID, "error", cerr)
		}
		return Info{}, err
	}
	r.persist(ctx, info)
	r.logger.Info("session: created", "session", info.ID, "transport", info.Transport)
	return info, nil
}

// Attach registers a session created elsewhere with the provider.
func (r *Registry) Attach(ctx context.Context, id string) (Info, error) {
	if id == "" {
		return Info{}, fmt.Errorf("%w: empty id", ErrUnknownSession)
	}
	info := Info{ID: id, Transport: r.transport.Name(), CreatedAt: time.Now()}
	e, added, err := r.register(info)
	if err != nil {
		return Info{}, err
	}
	if added {
		r.persist(ctx, info)
	}
	return e.info, nil
}

// register adds info unless the id is already known; added reports which.
func (r *Registry) register(info Info) (e *entry, added bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	if e, ok := r.sessions[info.ID]; ok {
		return e, false, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e = &entry{info: info, ctx: ctx, cancel: cancel}
	r.sessions[info.ID] = e
	return e, true, nil
}

func (r *Registry) persist(ctx context.Context, info Info) {
	if r.store == nil {
		return
	}
	if err := r.store.InsertSession(ctx, info); err != nil {
		r.logger.Warn("session: persist", "session", info.ID, "error", err)
	}
}

// List returns the registered sessions ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Resolve maps an empty id to the default session, creating one when none
// is configured yet.
func (r *Registry) Resolve(ctx context.Context, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	r.mu.Lock()
	def := r.defaultID
	r.mu.Unlock()
	if def != "" {
		return def, nil
	}

	// Serialize default creation so concurrent first calls share a session.
	r.createLock.Lock()
	defer r.createLock.Unlock()
	r.mu.Lock()
	def = r.defaultID
	r.mu.Unlock()
	if def != "" {
		return def, nil
	}
	info, err := r.Create(ctx)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.defaultID = info.ID
	r.mu.Unlock()
	return info.ID, nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := r.sessions[id]
	attach := !ok && (r.cfg.AttachUnknown || id == r.defaultID)
	r.mu.Unlock()
	if ok {
		return e, nil
	}
	if !attach {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	info := Info{ID: id, Transport: r.transport.Name(), CreatedAt: time.Now()}
	e, added, err := r.register(info)
	if err != nil {
		return nil, err
	}
	if added {
		r.persist(context.Background(), e.info)
	}
	return e, nil
}

// Do runs fn with exclusive use of the session's page, connecting first if
// needed. The context passed to fn is cancelled when either ctx ends or the
// session is closed. An empty id addresses the default session.
func (r *Registry) Do(ctx context.Context, id string, fn func(ctx context.Context, s *Session) error) error {
	id, err := r.Resolve(ctx, id)
	if err != nil {
		return err
	}
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		return fmt.Errorf("%w: %s", ErrClosed, id)
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	if e.conn == nil {
		if err := r.connect(opCtx, e); err != nil {
			return err
		}
	}
	return fn(opCtx, &Session{e: e, r: r})
}

func (r *Registry) connect(ctx context.Context, e *entry) error {
	conn, err := r.transport.Connect(ctx, e.info.ID)
	if err != nil {
		return fmt.Errorf("session: connect %s: %w", e.info.ID, err)
	}
	acts := operator.New(conn.Page, r.cfg.Actions)

	vp := conn.Viewport
	if live, err := acts.Viewport(ctx); err == nil && live.Width > 0 && live.Height > 0 {
		vp = live
	} else if err != nil {
		r.logger.Warn("session: query viewport", "session", e.info.ID, "error", err)
	}
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = r.cfg.Viewport
	}

	e.conn = conn
	e.acts = acts
	e.viewport = vp
	if r.store != nil {
		if err := r.store.SetViewport(ctx, e.info.ID, vp); err != nil {
			r.logger.Warn("session: persist viewport", "session", e.info.ID, "error", err)
		}
	}
	r.logger.Info("session: connected", "session", e.info.ID, "viewport", fmt.Sprintf("%dx%d", vp.Width, vp.Height))
	return nil
}

// CloseSession cancels in-flight work on the session, drops its connection
// and releases it with the transport.
func (r *Registry) CloseSession(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	if r.defaultID == id {
		r.defaultID = ""
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return r.closeEntry(ctx, e)
}

func (r *Registry) closeEntry(ctx context.Context, e *entry) error {
	e.cancel()
	e.mu.Lock()
	conn := e.conn
	e.conn, e.acts, e.snapshot = nil, nil, nil
	e.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Warn("session: close connection", "session", e.info.ID, "error", err)
		}
	}
	err := r.transport.CloseSession(ctx, e.info.ID)
	if r.store != nil {
		if serr := r.store.MarkClosed(ctx, e.info.ID, time.Now()); serr != nil {
			r.logger.Warn("session: persist close", "session", e.info.ID, "error", serr)
		}
	}
	if err != nil {
		return fmt.Errorf("session: release %s: %w", e.info.ID, err)
	}
	r.logger.Info("session: closed", "session", e.info.ID)
	return nil
}

// Close closes every session. Further calls fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := make([]*entry, 0, len(r.sessions))
	for id, e := range r.sessions {
		entries = append(entries, e)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var firstErr error
	for _, e := range entries {
		if err := r.closeEntry(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Session is the view of a session handed to Registry.Do callbacks. It is
// only valid inside the callback.
type Session struct {
	e *entry
	r *Registry
}

// ID returns the session id.
func (s *Session) ID() string { return s.e.info.ID }

// Info returns the session description.
func (s *Session) Info() Info { return s.e.info }

// Actions returns the action translator bound to the session's page.
func (s *Session) Actions() *operator.Actions { return s.e.acts }

// Viewport returns the viewport captured at connect or at the last refresh.
func (s *Session) Viewport() operator.Viewport { return s.e.viewport }

// RefreshViewport re-queries the live viewport. A change is logged and
// stored; on failure the known viewport is kept.
func (s *Session) RefreshViewport(ctx context.Context) operator.Viewport {
	live, err := s.e.acts.Viewport(ctx)
	if err != nil || live.Width <= 0 || live.Height <= 0 {
		if err != nil {
			s.r.logger.Debug("session: refresh viewport", "session", s.ID(), "error", err)
		}
		return s.e.viewport
	}
	if live != s.e.viewport {
		s.r.logger.Warn("session: viewport changed",
			"session", s.ID(),
			"was", fmt.Sprintf("%dx%d", s.e.viewport.Width, s.e.viewport.Height),
			"now", fmt.Sprintf("%dx%d", live.Width, live.Height))
		s.e.viewport = live
		if s.r.store != nil {
			if err := s.r.store.SetViewport(ctx, s.ID(), live); err != nil {
				s.r.logger.Warn("session: persist viewport", "session", s.ID(), "error", err)
			}
		}
	}
	return live
}

// Snapshot returns the latest observation's snapshot, nil after navigation.
func (s *Session) Snapshot() *domsnap.Snapshot { return s.e.snapshot }

// SetSnapshot keeps snap as the latest observation.
func (s *Session) SetSnapshot(snap *domsnap.Snapshot) { s.e.snapshot = snap }

// Invalidate drops the latest snapshot. Called after anything that loads a
// new document.
func (s *Session) Invalidate() { s.e.snapshot = nil }
