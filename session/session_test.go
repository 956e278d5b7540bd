package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/input"

	"github.com/hazyhaar/operator/domsnap"
	"github.com/hazyhaar/operator/internal/dbopen"
	"github.com/hazyhaar/operator/operator"
)

// stubPage answers viewport queries and blocks MouseClick on hold, if set.
type stubPage struct {
	mu       sync.Mutex
	viewport operator.Viewport
	active   int32
	overlap  int32
	hold     chan struct{}
}

func (p *stubPage) Evaluate(_ context.Context, js string, _ ...any) (json.RawMessage, error) {
	if strings.Contains(js, "innerWidth") {
		p.mu.Lock()
		defer p.mu.Unlock()
		return json.Marshal(p.viewport)
	}
	return json.RawMessage("null"), nil
}

func (p *stubPage) setViewport(vp operator.Viewport) {
	p.mu.Lock()
	p.viewport = vp
	p.mu.Unlock()
}

func (p *stubPage) Navigate(context.Context, string) error { return nil }
func (p *stubPage) Back(context.Context) error             { return nil }
func (p *stubPage) Forward(context.Context) error          { return nil }
func (p *stubPage) MouseMove(context.Context, float64, float64) error {
	if atomic.AddInt32(&p.active, 1) > 1 {
		atomic.StoreInt32(&p.overlap, 1)
	}
	return nil
}
func (p *stubPage) MouseClick(ctx context.Context) error {
	defer atomic.AddInt32(&p.active, -1)
	if p.hold != nil {
		select {
		case <-p.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
func (p *stubPage) Press(context.Context, input.Key) error          { return nil }
func (p *stubPage) Type(context.Context, rune) error                { return nil }
func (p *stubPage) Screenshot(context.Context, int) ([]byte, error) { return []byte{1}, nil }
func (p *stubPage) PDF(context.Context) ([]byte, error)             { return nil, nil }
func (p *stubPage) HTML(context.Context) (string, error)            { return "<html></html>", nil }
func (p *stubPage) Info(context.Context) (operator.PageInfo, error) {
	return operator.PageInfo{}, nil
}

// stubTransport hands out stubPages and counts calls.
type stubTransport struct {
	mu       sync.Mutex
	next     int
	pages    map[string]*stubPage
	connects map[string]int
	released []string
	vp       operator.Viewport
	failNew  error
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		pages:    make(map[string]*stubPage),
		connects: make(map[string]int),
		vp:       operator.Viewport{Width: 1000, Height: 800},
	}
}

func (t *stubTransport) Name() string { return "stub" }

func (t *stubTransport) CreateSession(context.Context) (Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNew != nil {
		return Info{}, t.failNew
	}
	t.next++
	return Info{ID: fmt.Sprintf("s%d", t.next)}, nil
}

func (t *stubTransport) Connect(_ context.Context, id string) (*Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects[id]++
	p, ok := t.pages[id]
	if !ok {
		p = &stubPage{viewport: t.vp}
		t.pages[id] = p
	}
	return NewConn(p, t.vp, nil), nil
}

func (t *stubTransport) CloseSession(_ context.Context, id string) error {
	t.mu.Lock()
	t.released = append(t.released, id)
	t.mu.Unlock()
	return nil
}

func (t *stubTransport) page(id string) *stubPage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pages[id]
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return st
}

func TestRegistry_LazyConnectOnce(t *testing.T) {
	tr := newStubTransport()
	reg := NewRegistry(tr, nil, Config{})
	defer reg.Close()

	info, err := reg.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Transport != "stub" || info.CreatedAt.IsZero() {
		t.Errorf("info: %+v", info)
	}
	if tr.connects[info.ID] != 0 {
		t.Fatal("Create should not connect")
	}

	for range 3 {
		err := reg.Do(context.Background(), info.ID, func(ctx context.Context, s *Session) error {
			if s.Viewport() != (operator.Viewport{Width: 1000, Height: 800}) {
				t.Errorf("viewport: %+v", s.Viewport())
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if got := tr.connects[info.ID]; got != 1 {
		t.Errorf("connects: got %d, want 1", got)
	}
}

func TestRegistry_DefaultSessionCreatedOnce(t *testing.T) {
	tr := newStubTransport()
	reg := NewRegistry(tr, nil, Config{})
	defer reg.Close()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = reg.Do(context.Background(), "", func(_ context.Context, s *Session) error {
				ids[i] = s.ID()
				return nil
			})
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] || id == "" {
			t.Fatalf("default session ids differ: %v", ids)
		}
	}
	if len(reg.List()) != 1 {
		t.Errorf("sessions: got %d, want 1", len(reg.List()))
	}
	if tr.connects[ids[0]] != 1 {
		t.Errorf("connects: got %d, want 1", tr.connects[ids[0]])
	}
}

func TestRegistry_ActionsDoNotInterleave(t *testing.T) {
	tr := newStubTransport()
	reg := NewRegistry(tr, nil, Config{})
	defer reg.Close()
	info, _ := reg.Create(context.Background())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.Do(context.Background(), info.ID, func(ctx context.Context, s *Session) error {
				_, err := s.Actions().Click(ctx, visionPoint(0.5, 0.5), s.Viewport(), operator.ClickOptions{})
				return err
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&tr.page(info.ID).overlap) != 0 {
		t.Error("two actions ran concurrently on one page")
	}
}

func TestRegistry_CloseCancelsInFlight(t *testing.T) {
	tr := newStubTransport()
	reg := NewRegistry(tr, nil, Config{})
	defer reg.Close()
	info, _ := reg.Create(context.Background())

	// Connect first so the hold can be installed on the page.
	if err := reg.Do(context.Background(), info.ID, func(context.Context, *Session) error { return nil }); err != nil {
		t.Fatal(err)
	}
	tr.page(info.ID).hold = make(chan struct{})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- reg.Do(context.Background(), info.ID, func(ctx context.Context, s *Session) error {
			close(started)
			_, err := s.Actions().Click(ctx, visionPoint(0.1, 0.1), s.Viewport(), operator.ClickOptions{})
			return err
		})
	}()
	<-started

	if err := reg.CloseSession(context.Background(), info.ID); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("in-flight action: got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight action not cancelled")
	}

	err := reg.Do(context.Background(), info.ID, func(context.Context, *Session) error { return nil })
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("after close: got %v, want ErrUnknownSession", err)
	}
	if len(tr.released) != 1 || tr.released[0] != info.ID {
		t.Errorf("released: %v", tr.released)
	}
}

func TestRegistry_UnknownAndAttach(t *testing.T) {
	tr := newStubTransport()
	reg := NewRegistry(tr, nil, Config{})
	defer reg.Close()

	err := reg.Do(context.Background(), "bb-123", func(context.Context, *Session) error { return nil })
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("got %v, want ErrUnknownSession", err)
	}
	if _, err := reg.Attach(context.Background(), "bb-123"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := reg.Do(context.Background(), "bb-123", func(context.Context, *Session) error { return nil }); err != nil {
		t.Errorf("after attach: %v", err)
	}

	open := NewRegistry(newStubTransport(), nil, Config{AttachUnknown: true})
	defer open.Close()
	if err := open.Do(context.Background(), "anything", func(context.Context, *Session) error { return nil }); err != nil {
		t.Errorf("AttachUnknown: %v", err)
	}
}

func TestRegistry_ConfiguredDefaultAttaches(t *testing.T) {
	tr := newStubTransport()
	reg := NewRegistry(tr, nil, Config{DefaultSession: "bb-default"})
	defer reg.Close()

	var got string
	if err := reg.Do(context.Background(), "", func(_ context.Context, s *Session) error {
		got = s.ID()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if got != "bb-default" {
		t.Errorf("default: got %q", got)
	}
	if tr.next != 0 {
		t.Error("configured default should not create a new session")
	}
}

func TestRegistry_ViewportRefresh(t *testing.T) {
	tr := newStubTransport()
	st := newTestStore(t)
	reg := NewRegistry(tr, st, Config{})
	defer reg.Close()
	info, _ := reg.Create(context.Background())

	_ = reg.Do(context.Background(), info.ID, func(context.Context, *Session) error { return nil })
	tr.page(info.ID).setViewport(operator.Viewport{Width: 640, Height: 480})

	err := reg.Do(context.Background(), info.ID, func(ctx context.Context, s *Session) error {
		vp := s.RefreshViewport(ctx)
		if vp != (operator.Viewport{Width: 640, Height: 480}) || s.Viewport() != vp {
			t.Errorf("refreshed viewport: %+v / %+v", vp, s.Viewport())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := st.Session(context.Background(), info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Viewport.Width != 640 {
		t.Errorf("stored viewport: %+v", rec.Viewport)
	}
}

func TestRegistry_SnapshotLifecycle(t *testing.T) {
	reg := NewRegistry(newStubTransport(), nil, Config{})
	defer reg.Close()
	info, _ := reg.Create(context.Background())

	snap := &domsnap.Snapshot{Index: map[int]*domsnap.ElementNode{}}
	_ = reg.Do(context.Background(), info.ID, func(_ context.Context, s *Session) error {
		s.SetSnapshot(snap)
		return nil
	})
	_ = reg.Do(context.Background(), info.ID, func(_ context.Context, s *Session) error {
		if s.Snapshot() != snap {
			t.Error("snapshot not kept across actions")
		}
		s.Invalidate()
		return nil
	})
	_ = reg.Do(context.Background(), info.ID, func(_ context.Context, s *Session) error {
		if s.Snapshot() != nil {
			t.Error("snapshot survived invalidation")
		}
		return nil
	})
}

func TestRegistry_ClosedRejects(t *testing.T) {
	tr := newStubTransport()
	reg := NewRegistry(tr, nil, Config{})
	a, _ := reg.Create(context.Background())
	b, _ := reg.Create(context.Background())
	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(tr.released) != 2 {
		t.Errorf("released: %v, want %s and %s", tr.released, a.ID, b.ID)
	}
	if _, err := reg.Create(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Create after Close: got %v", err)
	}
	if err := reg.Do(context.Background(), a.ID, func(context.Context, *Session) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Do after Close: got %v", err)
	}
}

func TestRegistry_CreateError(t *testing.T) {
	tr := newStubTransport()
	tr.failNew = errors.New("quota")
	reg := NewRegistry(tr, nil, Config{})
	defer reg.Close()
	if _, err := reg.Create(context.Background()); !errors.Is(err, tr.failNew) {
		t.Errorf("got %v", err)
	}
}
