package server

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/require"

	stdcontext "context"

	"fitrelay.dev/event"
	"fitrelay.dev/hex"
	"fitrelay.dev/kind"
	"fitrelay.dev/satellite"
	"fitrelay.dev/signer"
	"fitrelay.dev/socketapi"
	"fitrelay.dev/store"
	"fitrelay.dev/subscription"
	"fitrelay.dev/tags"
	"fitrelay.dev/timestamp"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	db, err := store.Open(stdcontext.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sats := satellite.New(db.DB)
	subs := subscription.New()
	identity := &signer.Signer{}
	require.NoError(t, identity.Generate())

	engine := socketapi.New(db, subs, sats, identity, socketapi.Config{
		FutureSkew:         300,
		DefaultLimit:       100,
		MaxLimit:           500,
		ForwardTimeout:     2 * time.Second,
		ForwardMaxAttempts: 3,
		ForwardBaseBackoff: 5 * time.Millisecond,
	})

	srv := New(stdcontext.Background(), Params{
		ListenAddress: "127.0.0.1:0",
		Metadata: Metadata{
			Name:          "test-relay",
			Description:   "a relay for signed health and fitness events",
			SupportedKind: []string{"1301", "33401", "33402", "32018-32048"},
			DefaultLimit:  100,
			MaxLimit:      500,
		},
		MaxLiveQueue: 16,
		WriteWait:    2 * time.Second,
		PongWait:     10 * time.Second,
		PingWait:     5 * time.Second,
	}, db, sats, identity, engine)

	done := make(chan struct{})
	go func() {
		_ = srv.Start()
		close(done)
	}()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, time.Millisecond)
	t.Cleanup(func() {
		srv.Shutdown()
		<-done
	})
	return srv, srv.Addr()
}

func TestGetRootReturnsMetadata(t *testing.T) {
	_, addr := testServer(t)
	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "test-relay")
	require.Contains(t, string(body), "32018-32048")
}

func TestRegisterSatelliteAcceptsValidBody(t *testing.T) {
	_, addr := testServer(t)
	pubkey := &signer.Signer{}
	require.NoError(t, pubkey.Generate())

	body := `{"url":"http://satellite.example","pubkey":"` +
		hex.Enc(pubkey.Pub()) + `","supported_kinds":[32020]}`
	resp, err := http.Post(
		"http://"+addr+"/register-satellite", "application/json",
		strings.NewReader(body),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(out), `"accepted":true`)
}

func TestRegisterSatelliteRejectsBadPubkey(t *testing.T) {
	_, addr := testServer(t)
	body := `{"url":"http://satellite.example","pubkey":"nothex","supported_kinds":[32020]}`
	resp, err := http.Post(
		"http://"+addr+"/register-satellite", "application/json",
		strings.NewReader(body),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterSatelliteRejectsNonPost(t *testing.T) {
	_, addr := testServer(t)
	resp, err := http.Get("http://" + addr + "/register-satellite")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebsocketUpgradeServesEvents(t *testing.T) {
	_, addr := testServer(t)
	wsURL := "ws://" + addr + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	ev := newSignedEvent(t, 32045)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, publishFrame(ev)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"OK"`)
	require.Contains(t, string(msg), ev.IdString())
}

func newSignedEvent(t *testing.T, k kind.T) *event.E {
	t.Helper()
	s := &signer.Signer{}
	require.NoError(t, s.Generate())
	ev := event.New()
	ev.CreatedAt = timestamp.Now()
	ev.Kind = k
	ev.Content = []byte("payload")
	ev.Tags = tags.New()
	require.NoError(t, ev.Sign(s))
	return ev
}

func publishFrame(ev *event.E) []byte {
	dst := []byte(`["EVENT",`)
	dst = ev.Marshal(dst)
	dst = append(dst, ']')
	return dst
}

