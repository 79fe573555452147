package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/require"

	"fitrelay.dev/event"
	"fitrelay.dev/kind"
	"fitrelay.dev/signer"
	"fitrelay.dev/timestamp"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func serveOneConnection(t *testing.T, maxLiveQueue int) (conns chan *Connection, url string) {
	t.Helper()
	conns = make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := New(wsConn, r, "test", maxLiveQueue, 2*time.Second)
		conns <- c
		c.RunWriter()
	}))
	t.Cleanup(srv.Close)
	return conns, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialClient(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newEvent(t *testing.T) *event.E {
	t.Helper()
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = timestamp.Now()
	ev.Kind = kind.HealthRecord
	require.NoError(t, ev.Sign(s))
	return ev
}

func TestEnqueueControlIsDelivered(t *testing.T) {
	conns, url := serveOneConnection(t, 4)
	client := dialClient(t, url)
	server := <-conns

	server.EnqueueControl([]byte(`["NOTICE","hi"]`))

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, `["NOTICE","hi"]`, string(msg))
}

func TestDeliverRendersEventFrame(t *testing.T) {
	conns, url := serveOneConnection(t, 4)
	client := dialClient(t, url)
	server := <-conns

	ev := newEvent(t)
	server.Deliver("sub1", ev)

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"EVENT"`)
	require.Contains(t, string(msg), `"sub1"`)
	require.Contains(t, string(msg), ev.IdString())
}

func TestControlFramesDeliveredBeforeBacklogOfLive(t *testing.T) {
	conns, url := serveOneConnection(t, 4)
	client := dialClient(t, url)
	server := <-conns

	server.mu.Lock()
	server.live = append(server.live, []byte(`["EVENT","sub1",{}]`))
	server.mu.Unlock()
	server.EnqueueControl([]byte(`["OK","abc",true,""]`))

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"OK"`)
}

func serveOneConnectionNoWriter(t *testing.T, maxLiveQueue int) (conns chan *Connection, url string) {
	t.Helper()
	conns = make(chan *Connection, 1)
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := New(wsConn, r, "test", maxLiveQueue, 2*time.Second)
		conns <- c
		<-stop
	}))
	t.Cleanup(srv.Close)
	return conns, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestLiveQueueFullClosesConnectionInsteadOfShedding(t *testing.T) {
	conns, url := serveOneConnection(t, 1)
	client := dialClient(t, url)
	server := <-conns

	older := newEvent(t)
	newer := newEvent(t)
	server.Deliver("sub1", older)
	server.Deliver("sub1", newer)

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), older.IdString())

	_, msg, err = client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"NOTICE"`)
	require.Eventually(t, func() bool { return server.State() == Closed }, time.Second, 5*time.Millisecond)
}

func TestDeliverClosesConnectionWhenQueueCapacityIsZero(t *testing.T) {
	conns, url := serveOneConnection(t, 0)
	client := dialClient(t, url)
	server := <-conns

	ev := newEvent(t)
	server.Deliver("sub1", ev)

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"NOTICE"`)
	require.Eventually(t, func() bool { return server.State() == Closed }, time.Second, 5*time.Millisecond)
}

func TestBacklogQueueShedsOldestWhenFull(t *testing.T) {
	conns, url := serveOneConnectionNoWriter(t, 1)
	dialClient(t, url)
	server := <-conns

	server.EnqueueBacklog([]byte(`["EVENT","sub1",{"id":"older"}]`))
	server.EnqueueBacklog([]byte(`["EVENT","sub1",{"id":"newer"}]`))

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Len(t, server.backlog, 1)
	require.Contains(t, string(server.backlog[0].frame), "newer")
}

func TestEnqueueEOSEIsNeverShed(t *testing.T) {
	conns, url := serveOneConnectionNoWriter(t, 1)
	dialClient(t, url)
	server := <-conns

	server.EnqueueEOSE([]byte(`["EOSE","sub1"]`))
	server.EnqueueBacklog([]byte(`["EVENT","sub1",{"id":"later"}]`))

	server.mu.Lock()
	defer server.mu.Unlock()
	// At capacity 1 with only the unsheddable EOSE queued, the later replay
	// frame cannot be admitted: the EOSE stays and the queue stays bounded.
	require.Len(t, server.backlog, 1)
	require.Contains(t, string(server.backlog[0].frame), `"EOSE"`)
}

func TestBacklogReplayPrecedesEOSEOnTheWire(t *testing.T) {
	conns, url := serveOneConnection(t, 4)
	client := dialClient(t, url)
	server := <-conns

	server.EnqueueBacklog([]byte(`["EVENT","sub1",{"id":"replayed"}]`))
	server.EnqueueEOSE([]byte(`["EOSE","sub1"]`))

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), "replayed")

	_, msg, err = client.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"EOSE"`)
}
