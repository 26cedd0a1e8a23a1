package acceptor

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringio/sessionkit/iosock"
	"github.com/ringio/sessionkit/reactor"
	"github.com/ringio/sessionkit/session"
)

func newTestReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r := reactor.New()
	require.NoError(t, r.Start(4))
	t.Cleanup(r.Stop)
	return r
}

func TestAcceptorHandsOffEstablishedSessions(t *testing.T) {
	r := newTestReactor(t)

	factory := func(sock *iosock.Socket) *session.Session {
		return session.New(sock, r, session.Callbacks{}, nil)
	}

	var mu sync.Mutex
	var accepted []*session.Session
	acceptedCh := make(chan struct{}, 4)

	a, err := Listen("127.0.0.1:0", r, factory, &Options{InitialPostCount: 2}, func(s *session.Session) {
		mu.Lock()
		accepted = append(accepted, s)
		mu.Unlock()
		acceptedCh <- struct{}{}
	}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	defer a.Stop()

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", a.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
	}

	for i := 0; i < 3; i++ {
		select {
		case <-acceptedCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("accept %d never delivered", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, accepted, 3)
	for _, s := range accepted {
		require.Equal(t, session.StateEstablished, s.State())
	}
}

func TestAcceptorStopClosesListener(t *testing.T) {
	r := newTestReactor(t)
	factory := func(sock *iosock.Socket) *session.Session {
		return session.New(sock, r, session.Callbacks{}, nil)
	}
	a, err := Listen("127.0.0.1:0", r, factory, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start())

	addr := a.Addr().String()
	require.NoError(t, a.Stop())

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	require.Error(t, err)
}
