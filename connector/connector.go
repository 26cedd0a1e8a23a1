// Package connector implements the Connector: a single outbound asynchronous
// connect attempt that, on success, constructs and establishes a Session,
// and on failure reports the dial error without ever retrying on its own.
package connector

import (
	"net"

	"github.com/ringio/sessionkit/iosock"
	"github.com/ringio/sessionkit/reactor"
	"github.com/ringio/sessionkit/session"
)

// SessionFactory constructs a Session over a freshly connected socket. As
// with acceptor.SessionFactory, it must not call Establish itself.
type SessionFactory func(sock *iosock.Socket) *session.Session

// Connector drives exactly one pending connect operation.
type Connector struct {
	rct         *reactor.Reactor
	token       reactor.Token
	factory     SessionFactory
	onConnected func(*session.Session)
	onError     func(err error)
}

// Dial starts an asynchronous connect to addr. onConnected is invoked with
// the newly established Session on success; onError is invoked with the
// dial error on failure. Exactly one of the two fires.
func Dial(addr string, rct *reactor.Reactor, factory SessionFactory, onConnected func(*session.Session), onError func(error)) *Connector {
	c := &Connector{
		rct:         rct,
		factory:     factory,
		onConnected: onConnected,
		onError:     onError,
	}
	c.token = rct.Register(c)
	rct.SubmitConnect(c.token, &net.Dialer{}, "tcp", addr)
	return c
}

// OnCompletion implements reactor.Consumer.
func (c *Connector) OnCompletion(comp reactor.Completion) {
	if comp.Op != reactor.OpConnect {
		return
	}
	c.rct.Unregister(c.token)

	if !comp.Success {
		if c.onError != nil {
			c.onError(comp.Err)
		}
		return
	}

	conn, _ := comp.Context.(net.Conn)
	sock := iosock.Wrap(conn)
	_ = sock.SetNoDelay(true)
	_ = sock.SetKeepAlive(true)

	sess := c.factory(sock)
	sess.Establish()
	if c.onConnected != nil {
		c.onConnected(sess)
	}
}
