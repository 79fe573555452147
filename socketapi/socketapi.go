// Package socketapi is the command-dispatch half of the Connection &
// Protocol Engine (C7): it turns parsed envelope frames into calls against
// the event validator, privacy classifier, satellite registry, event
// store, and subscription registry, and renders the outcome back onto a
// connection's outbound queues. Grounded on the teacher's
// socketapi/handleMessage.go dispatch-on-label shape and the
// handleEvent.go/handleReq.go/handleClose.go split, rebuilt against this
// relay's own envelope/ws packages rather than its envelopes/listener pair.
package socketapi

import (
	"bytes"
	"net/http"
	"time"

	"lukechampine.com/frand"

	"fitrelay.dev/context"
	"fitrelay.dev/envelope"
	"fitrelay.dev/errorf"
	"fitrelay.dev/event"
	"fitrelay.dev/filter"
	"fitrelay.dev/log"
	"fitrelay.dev/privacy"
	"fitrelay.dev/reference"
	"fitrelay.dev/satellite"
	"fitrelay.dev/signer"
	"fitrelay.dev/store"
	"fitrelay.dev/subscription"
	"fitrelay.dev/timestamp"
	"fitrelay.dev/ws"
)

// Config holds the tunables an Engine needs beyond its collaborators.
type Config struct {
	// FutureSkew bounds how far into the future an event's created_at may
	// sit before Validate rejects it for clock skew.
	FutureSkew int64

	// DefaultLimit is applied to a filter whose Limit is unset.
	DefaultLimit int
	// MaxLimit caps any filter's Limit, set or unset.
	MaxLimit int

	// ForwardTimeout bounds a single satellite-forward HTTP attempt.
	ForwardTimeout time.Duration
	// ForwardMaxAttempts bounds the retry budget for a satellite forward
	// before the event is dropped.
	ForwardMaxAttempts int
	// ForwardBaseBackoff is the delay before the first retry; it doubles
	// on each subsequent attempt.
	ForwardBaseBackoff time.Duration
}

// Engine wires every relay component to the wire protocol. One Engine
// serves every connection accepted by the server.
type Engine struct {
	store      *store.D
	subs       *subscription.R
	satellites *satellite.R
	identity   signer.I
	cfg        Config
	httpClient *http.Client
}

// New builds an Engine over its storage and registry collaborators.
func New(db *store.D, subs *subscription.R, satellites *satellite.R, identity signer.I, cfg Config) *Engine {
	return &Engine{
		store:      db,
		subs:       subs,
		satellites: satellites,
		identity:   identity,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.ForwardTimeout},
	}
}

// HandleMessage parses one frame from conn and dispatches it. Parse errors
// and unrecognized labels produce a NOTICE; they never close the
// connection, matching spec.md's "advisory, not fatal" framing.
func (e *Engine) HandleMessage(ctx context.T, conn *ws.Connection, msg []byte) {
	label, rest, err := envelope.Identify(msg)
	if err != nil {
		e.notice(conn, "could not parse frame: "+err.Error())
		return
	}
	switch label {
	case envelope.Event:
		e.handlePublish(ctx, conn, rest)
	case envelope.Req:
		e.handleReq(ctx, conn, rest)
	case envelope.Close:
		e.handleClose(conn, rest)
	default:
		e.notice(conn, "unknown envelope type: "+label)
	}
}

// Disconnect releases every subscription conn held. Call it once the
// connection's read loop exits.
func (e *Engine) Disconnect(conn *ws.Connection) {
	e.subs.RemoveAll(conn)
}

func (e *Engine) notice(conn *ws.Connection, msg string) {
	conn.EnqueueControl(envelope.WriteNotice(nil, msg))
}

func (e *Engine) ok(conn *ws.Connection, id string, ok bool, msg string) {
	conn.EnqueueControl(envelope.WriteOK(nil, id, ok, msg))
}

// handlePublish implements the PUBLISH flow: C1 validate, C2 classify,
// then either a direct store+live-match (PUBLIC/LIMITED) or a satellite
// route with asynchronous forward and a synthesized reference event
// (PRIVATE).
func (e *Engine) handlePublish(ctx context.T, conn *ws.Connection, rest []byte) {
	ev, err := envelope.ParseEvent(rest)
	if err != nil {
		e.notice(conn, "could not parse EVENT: "+err.Error())
		return
	}

	if ok, verr := event.Validate(ev, timestamp.T(e.cfg.FutureSkew)); !ok {
		e.ok(conn, ev.IdString(), false, "invalid: "+verr.Error())
		return
	}

	switch privacy.Classify(ev) {
	case privacy.Private:
		e.publishPrivate(ctx, conn, ev)
	default:
		e.publishOpen(conn, ev)
	}
}

func (e *Engine) publishOpen(conn *ws.Connection, ev *event.E) {
	existing, err := e.store.Get(ev.Id)
	if err != nil {
		e.ok(conn, ev.IdString(), false, "error: "+err.Error())
		return
	}
	if err := e.store.Put(ev); err != nil {
		e.ok(conn, ev.IdString(), false, "error: "+err.Error())
		return
	}
	// The OK is queued before fan-out so the publisher's own acknowledgement
	// precedes any live EVENT the same publish produces on its connection.
	e.ok(conn, ev.IdString(), true, "")
	// store.Put no-ops on an id already present; only fan out an EVENT the
	// store didn't already have, so a duplicate PUBLISH still gets OK true
	// without being delivered to live subscribers a second time.
	if existing == nil {
		e.subs.Publish(ev)
	}
}

func (e *Engine) publishPrivate(ctx context.T, conn *ws.Connection, ev *event.E) {
	node, err := e.satellites.Route(ev)
	if err != nil {
		e.ok(conn, ev.IdString(), false, "error: "+err.Error())
		return
	}
	if node == nil {
		e.publishPrivateFallback(conn, ev)
		return
	}

	ref, err := reference.Build(ev, node, e.identity)
	if err != nil {
		e.ok(conn, ev.IdString(), false, "error: "+err.Error())
		return
	}
	if err := e.store.Put(ref); err != nil {
		e.ok(conn, ev.IdString(), false, "error: "+err.Error())
		return
	}
	e.subs.Publish(ref)

	// The acknowledgement reports success as soon as the pointer is
	// durable; reaching the satellite happens afterward and does not
	// block the reply.
	go e.forward(ctx, conn, ev, node)

	e.ok(conn, ev.IdString(), true, "forwarded to satellite")
}

func (e *Engine) publishPrivateFallback(conn *ws.Connection, ev *event.E) {
	existing, err := e.store.Get(ev.Id)
	if err != nil {
		e.ok(conn, ev.IdString(), false, "error: "+err.Error())
		return
	}
	if err := e.store.Put(ev); err != nil {
		e.ok(conn, ev.IdString(), false, "error: "+err.Error())
		return
	}
	e.ok(conn, ev.IdString(), true, "no satellite available, stored locally")
	if existing == nil {
		e.subs.Publish(ev)
	}
}

// forward delivers ev's original bytes to node with bounded exponential
// backoff. On exhaustion it logs and, if conn is still open, emits a
// NOTICE; this runs detached from the PUBLISH reply so a slow or
// unreachable satellite never delays the originating client's OK.
func (e *Engine) forward(ctx context.T, conn *ws.Connection, ev *event.E, node *satellite.Node) {
	backoff := e.cfg.ForwardBaseBackoff
	var lastErr error
	for attempt := 0; attempt < e.cfg.ForwardMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff *= 2
		}
		if lastErr = e.postEvent(ctx, node.URL, ev); lastErr == nil {
			return
		}
		log.D.F("forward attempt %d to %s failed: %v", attempt+1, node.URL, lastErr)
	}
	log.W.F("dropping event %s after exhausting forward retries to %s: %v", ev.IdString(), node.URL, lastErr)
	if conn.State() == ws.Open {
		conn.EnqueueControl(envelope.WriteNotice(nil, "failed to forward event "+ev.IdString()+" to satellite, dropped"))
	}
}

// jitter randomizes d by up to +/-25%, so many connections retrying the
// same stalled satellite don't all wake on the same tick.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := int64(d) / 2
	return d - time.Duration(spread/2) + time.Duration(frand.Intn(int(spread)+1))
}

func (e *Engine) postEvent(ctx context.T, url string, ev *event.E) error {
	body := ev.Marshal(nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errorf.E("satellite responded %d", resp.StatusCode)
	}
	return nil
}

// handleReq implements SUBSCRIBE: it replays the matching backlog through
// the connection's bounded, shed-eligible backlog queue, then the EOSE
// marking that replay's end, then installs a live subscription unless every
// filter is a one-shot id lookup.
func (e *Engine) handleReq(ctx context.T, conn *ws.Connection, rest []byte) {
	label, filters, err := envelope.ParseReq(rest)
	if err != nil {
		e.notice(conn, "could not parse REQ: "+err.Error())
		return
	}
	e.clampLimits(filters)

	matched, err := e.store.Query(ctx, filters, e.cfg.MaxLimit)
	if err != nil {
		e.notice(conn, "query failed: "+err.Error())
		return
	}
	for _, ev := range matched {
		conn.EnqueueBacklog(envelope.WriteEvent(nil, label, ev))
	}
	conn.EnqueueEOSE(envelope.WriteEOSE(nil, label))

	if !complete(filters) {
		e.subs.Add(conn, label, filters)
	}
}

// clampLimits fills an unset Limit with DefaultLimit and caps every set
// Limit at MaxLimit.
func (e *Engine) clampLimits(filters filter.S) {
	for _, f := range filters {
		if f.Limit == nil {
			l := e.cfg.DefaultLimit
			f.Limit = &l
			continue
		}
		if *f.Limit > e.cfg.MaxLimit {
			*f.Limit = e.cfg.MaxLimit
		}
	}
}

// complete reports whether every filter in the set is a one-shot id
// lookup, which never needs a live subscription: once the backlog query
// has run, there is nothing further to deliver for an exact id match.
func complete(filters filter.S) bool {
	for _, f := range filters {
		if f.Ids == nil || len(*f.Ids) == 0 {
			return false
		}
	}
	return true
}

func (e *Engine) handleClose(conn *ws.Connection, rest []byte) {
	label, err := envelope.ParseClose(rest)
	if err != nil {
		e.notice(conn, "could not parse CLOSE: "+err.Error())
		return
	}
	e.subs.Remove(conn, label)
}
