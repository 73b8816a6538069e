// Package gateway implements the session-addressed HTTP surface:  a router
// multiplexing stateless HTTP requests onto stateful per-client protocol
// sessions, and the service wrapper that owns its listener and session
// table.
package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/oklog/ulid/v2"
	"github.com/opsbridge/opsbridge/pkg/headers"
	"github.com/opsbridge/opsbridge/pkg/logger"
	"github.com/opsbridge/opsbridge/pkg/publicerr"
	"github.com/opsbridge/opsbridge/pkg/session"
	"github.com/opsbridge/opsbridge/pkg/toolserver"
)

const (
	// maxBodySize bounds a single protocol message, currently 4MB.
	maxBodySize = 4 * 1024 * 1024

	// defaultProtocolVersion is assumed for one-shot requests that never
	// performed the initialize handshake.
	defaultProtocolVersion = "2025-03-26"

	methodInitialize = "initialize"

	// sseKeepalive is the interval between keepalive comments on a
	// standalone event stream, matching common proxy idle timeouts.
	sseKeepalive = 20 * time.Second
)

// supportedProtocolVersions are the protocol revisions accepted on the
// Mcp-Protocol-Version header.
var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
}

// Router dispatches /mcp requests onto protocol sessions.  Requests
// carrying a known Mcp-Session-Id are forwarded to that session;  an
// initialize call without one creates and registers a new session;  any
// other sessionless call is served one-shot on an ephemeral session.
type Router struct {
	factory *toolserver.Factory
	table   *session.Table
	log     logger.Logger
}

func NewRouter(factory *toolserver.Factory, table *session.Table, log logger.Logger) *Router {
	if log == nil {
		log = logger.VoidLogger()
	}
	return &Router{
		factory: factory,
		table:   table,
		log:     log,
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if pv := r.Header.Get(headers.HeaderKeyProtocolVersion); pv != "" && !supportedProtocolVersions[pv] {
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeBadRequest,
			http.StatusBadRequest,
			"unsupported protocol version: %s", pv,
		))
		return
	}

	id := r.Header.Get(headers.HeaderKeySessionID)

	switch r.Method {
	case http.MethodPost:
		rt.post(w, r, id)
	case http.MethodGet:
		rt.stream(w, r, id)
	case http.MethodDelete:
		rt.terminate(w, r, id)
	default:
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeBadRequest,
			http.StatusMethodNotAllowed,
			"method %s is not supported", r.Method,
		))
	}
}

func (rt *Router) post(w http.ResponseWriter, r *http.Request, id string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
			publicerr.CodeBadRequest,
			http.StatusBadRequest,
			"could not read request body",
		))
		return
	}

	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
			publicerr.CodeBadRequest,
			http.StatusBadRequest,
			"body is not a valid protocol message",
		))
		return
	}

	if id != "" {
		rt.forwardToSession(w, r, id, msg)
		return
	}

	if req, ok := msg.(*jsonrpc.Request); ok && req.IsCall() && req.Method == methodInitialize {
		rt.handshake(w, r, msg)
		return
	}

	rt.oneShot(w, r, msg)
}

// forwardToSession handles state 3/4 POSTs:  the request addresses an
// existing session by ID.
func (rt *Router) forwardToSession(w http.ResponseWriter, r *http.Request, id string, msg jsonrpc.Message) {
	sess, ok := rt.table.Lookup(id)
	if !ok {
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeSessionNotFound,
			http.StatusNotFound,
			"session not found",
		))
		return
	}

	resp, err := sess.Forward(r.Context(), msg)
	if err != nil {
		rt.handleForwardError(w, r, id, err)
		return
	}
	if resp == nil {
		// Notification accepted;  nothing to return.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	rt.writeMessage(w, resp)
}

// handshake handles state 1 initialize calls:  build a session, run the
// handshake through it, and register it only on success.
func (rt *Router) handshake(w http.ResponseWriter, r *http.Request, msg jsonrpc.Message) {
	id := ulid.Make().String()
	bridge := session.NewBridge(id)

	handler, err := rt.factory.NewSession(r.Context(), bridge)
	if err != nil {
		_ = bridge.Close()
		_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
			publicerr.CodeInternal,
			http.StatusInternalServerError,
			"could not create session",
		))
		return
	}

	sess := session.New(id, bridge, handler)

	// Tear down on every exit path unless the session was registered.
	registered := false
	defer func() {
		if !registered {
			if cerr := sess.Close(); cerr != nil {
				rt.log.Warn("closing unregistered session", "session_id", id, "error", cerr)
			}
		}
	}()

	resp, err := sess.Forward(r.Context(), msg)
	if err != nil {
		_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
			publicerr.CodeInternal,
			http.StatusInternalServerError,
			"handshake dispatch failed",
		))
		return
	}

	jresp, ok := resp.(*jsonrpc.Response)
	if !ok {
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeInternal,
			http.StatusInternalServerError,
			"handshake produced no response",
		))
		return
	}

	if jresp.Error != nil {
		// The handler rejected the handshake.  Relay its response verbatim
		// and never register.
		rt.writeMessage(w, jresp)
		return
	}

	if existing, ok := rt.table.Insert(sess); !ok {
		// Another handshake won the ID.  ULIDs should make this impossible,
		// but losing means closing what we built.
		rt.log.Error("session id collision", "session_id", id, "existing_created_at", existing.CreatedAt)
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeInternal,
			http.StatusInternalServerError,
			"session registration failed",
		))
		return
	}
	registered = true

	rt.log.Info("session created", "session_id", id)

	w.Header().Set(headers.HeaderKeySessionID, id)
	rt.writeMessage(w, jresp)
}

// oneShot handles state 1 non-initialize messages:  serve them on an
// ephemeral session that is torn down as soon as the response is written.
func (rt *Router) oneShot(w http.ResponseWriter, r *http.Request, msg jsonrpc.Message) {
	protocolVersion := r.Header.Get(headers.HeaderKeyProtocolVersion)
	if protocolVersion == "" {
		protocolVersion = defaultProtocolVersion
	}

	bridge := session.NewBridge("")
	handler, err := rt.factory.NewEphemeralSession(r.Context(), bridge, protocolVersion)
	if err != nil {
		_ = bridge.Close()
		_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
			publicerr.CodeInternal,
			http.StatusInternalServerError,
			"could not create session",
		))
		return
	}

	sess := session.New("", bridge, handler)
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			rt.log.Warn("closing ephemeral session", "error", cerr)
		}
	}()

	resp, err := sess.Forward(r.Context(), msg)
	if err != nil {
		_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
			publicerr.CodeInternal,
			http.StatusInternalServerError,
			"dispatch failed",
		))
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	rt.writeMessage(w, resp)
}

// stream handles GETs:  attach a server-sent-events stream carrying the
// session's server-initiated messages.
func (rt *Router) stream(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeMissingSessionID,
			http.StatusBadRequest,
			"a session id is required to read",
		))
		return
	}

	sess, ok := rt.table.Lookup(id)
	if !ok {
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeSessionNotFound,
			http.StatusNotFound,
			"session not found",
		))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeInternal,
			http.StatusInternalServerError,
			"streaming unsupported",
		))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-sess.Notifications():
			data, err := jsonrpc.EncodeMessage(msg)
			if err != nil {
				rt.log.Error("encoding server message", "session_id", id, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// terminate handles DELETEs:  remove the session from the table, then tear
// it down.
func (rt *Router) terminate(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeMissingSessionID,
			http.StatusBadRequest,
			"a session id is required to terminate",
		))
		return
	}

	sess, ok := rt.table.Remove(id)
	if !ok {
		_ = publicerr.WriteHTTP(w, publicerr.CodedErrorf(
			publicerr.CodeSessionNotFound,
			http.StatusNotFound,
			"session not found",
		))
		return
	}

	if err := sess.Close(); err != nil {
		rt.log.Warn("session teardown", "session_id", id, "error", err)
	}
	rt.log.Info("session terminated", "session_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// handleForwardError maps a forward failure on a registered session to a
// response.  Only a closed transport evicts;  transient failures leave the
// session registered.
func (rt *Router) handleForwardError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if errors.Is(err, session.ErrClosed) {
		if sess, ok := rt.table.Remove(id); ok {
			if cerr := sess.Close(); cerr != nil {
				rt.log.Warn("evicted session teardown", "session_id", id, "error", cerr)
			}
			rt.log.Warn("session evicted after transport failure", "session_id", id)
		}
		_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
			publicerr.CodeInternal,
			http.StatusInternalServerError,
			"session transport failed",
		))
		return
	}

	if errors.Is(err, session.ErrDuplicateID) {
		_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
			publicerr.CodeBadRequest,
			http.StatusBadRequest,
			"request id is already in flight",
		))
		return
	}

	if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
		// Client went away;  nothing useful to write.
		return
	}

	_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
		publicerr.CodeInternal,
		http.StatusInternalServerError,
		"dispatch failed",
	))
}

func (rt *Router) writeMessage(w http.ResponseWriter, msg jsonrpc.Message) {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		_ = publicerr.WriteHTTP(w, publicerr.CodedWrap(err,
			publicerr.CodeInternal,
			http.StatusInternalServerError,
			"could not encode response",
		))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
