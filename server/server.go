// Package server is the composition root: plain HTTP listener, websocket
// upgrade routing, the satellite registration endpoint, and relay
// metadata, grounded on the teacher's server/server.go (net.Listen +
// cors.Default().Handler(s) + graceful Shutdown) and
// socketapi/socketapi.go (header-sniffed upgrade-vs-plain-HTTP dispatch).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	fitctx "fitrelay.dev/context"
	"fitrelay.dev/log"
	"fitrelay.dev/satellite"
	"fitrelay.dev/signer"
	"fitrelay.dev/socketapi"
	"fitrelay.dev/store"
	"fitrelay.dev/ws"
)

// Metadata is the advertised shape GET / returns.
type Metadata struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Identity      string   `json:"identity_pubkey"`
	Contact       string   `json:"contact"`
	SupportedKind []string `json:"supported_kinds"`
	DefaultLimit  int      `json:"default_query_limit"`
	MaxLimit      int      `json:"max_query_limit"`
}

// Params bundles Server's construction-time tunables.
type Params struct {
	ListenAddress string
	Metadata      Metadata
	MaxLiveQueue  int
	WriteWait     time.Duration
	PongWait      time.Duration
	PingWait      time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize: 4096, WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server wires the wire protocol, the satellite registration surface, and
// the metadata document behind one http.Server.
type Server struct {
	ctx    fitctx.T
	cancel fitctx.F
	wg     sync.WaitGroup

	params Params
	store  *store.D
	sats   *satellite.R
	engine *socketapi.Engine

	httpServer *http.Server

	mu   sync.Mutex
	addr string
}

// New builds a Server. Call Start to begin serving.
func New(ctx fitctx.T, params Params, db *store.D, sats *satellite.R, identity signer.I, engine *socketapi.Engine) *Server {
	ctx, cancel := fitctx.Cancel(ctx)
	s := &Server{ctx: ctx, cancel: cancel, params: params, store: db, sats: sats, engine: engine}
	router := chi.NewRouter()
	router.Get("/", s.handleRoot)
	registerOpenAPI(router, s)

	s.httpServer = &http.Server{
		Handler:           cors.Default().Handler(router),
		Addr:              params.ListenAddress,
		ReadHeaderTimeout: 7 * time.Second,
		IdleTimeout:       28 * time.Second,
	}
	return s
}

// Start binds the listener and serves until Shutdown is called. It returns
// nil on a clean shutdown and a non-nil error on bind failure, matching the
// exit-code contract (0 clean, non-zero on unrecoverable bootstrap
// failure).
func (s *Server) Start() (err error) {
	s.wg.Add(1)
	defer s.wg.Done()
	var listener net.Listener
	if listener, err = net.Listen("tcp", s.params.ListenAddress); err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()
	log.I.F("listening on http://%s", s.addr)
	if err = s.httpServer.Serve(listener); errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the bound listen address, useful when ListenAddress used an
// ephemeral port ("127.0.0.1:0"). Empty until Start has bound its listener.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown cancels the background context and gracefully drains the HTTP
// server.
func (s *Server) Shutdown() {
	log.W.Ln("shutting down")
	s.cancel()
	_ = s.httpServer.Shutdown(context.Background())
	s.wg.Wait()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") == "websocket" {
		s.handleUpgrade(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, s.params.Metadata)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	remote := remoteAddr(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.E.F("%s failed to upgrade websocket: %v", remote, err)
		return
	}
	c := ws.New(conn, r, remote, s.params.MaxLiveQueue, s.params.WriteWait)
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.params.PongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.params.PongWait))
		return nil
	})

	go c.RunWriter()
	go s.runPinger(c)
	s.readLoop(c, remote)
}

// readLoop processes one connection's inbound frames strictly in order: a
// PUBLISH is fully classified, stored, and acknowledged before the next
// frame on the same connection is even read off the wire. HandleMessage
// runs inline rather than on its own goroutine so two PUBLISHes (or a
// PUBLISH racing a REQ/CLOSE) from the same client can never be handled
// concurrently.
func (s *Server) readLoop(c *ws.Connection, remote string) {
	defer func() {
		s.engine.Disconnect(c)
		c.Close()
		log.T.F("%s disconnected", remote)
	}()
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				log.T.F("%s read error: %v", remote, err)
			}
			return
		}
		s.engine.HandleMessage(s.ctx, c, message)
	}
}

func (s *Server) runPinger(c *ws.Connection) {
	ticker := time.NewTicker(s.params.PingWait)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if c.State() != ws.Open {
				return
			}
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.params.WriteWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}
