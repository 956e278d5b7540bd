// Package session owns browser sessions: creating them through a transport,
// connecting lazily, serializing every action on a session, and recording
// sessions and actions in SQLite.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/operator/operator"
)

var (
	// ErrUnknownSession is returned for ids the registry or store never saw.
	ErrUnknownSession = errors.New("session: unknown session")
	// ErrClosed is returned when a session or the registry has been closed.
	ErrClosed = errors.New("session: closed")
)

// Info describes a session as created by a transport.
type Info struct {
	ID        string    `json:"id"`
	Transport string    `json:"transport"`
	LiveURL   string    `json:"live_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Transport creates, connects to and releases browser sessions.
type Transport interface {
	// Name identifies the transport in session records.
	Name() string
	CreateSession(ctx context.Context) (Info, error)
	// Connect returns a connection to the session's single page. The
	// connection lives until Conn.Close, independent of ctx.
	Connect(ctx context.Context, id string) (*Conn, error)
	CloseSession(ctx context.Context, id string) error
}

// Conn is a live connection to a session's page.
type Conn struct {
	Page operator.Page
	// Viewport is the size the transport configured, zero when unknown.
	Viewport operator.Viewport

	close func() error
}

// NewConn wraps page; closeFn, which may be nil, runs on Close.
func NewConn(page operator.Page, vp operator.Viewport, closeFn func() error) *Conn {
	return &Conn{Page: page, Viewport: vp, close: closeFn}
}

// Close releases the connection. The session itself stays alive.
func (c *Conn) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}
