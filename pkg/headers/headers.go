package headers

import (
	"net/http"
)

const (
	// HeaderKeySessionID addresses an existing protocol session.  It is
	// assigned by the gateway on handshake and echoed by clients on every
	// subsequent request.
	HeaderKeySessionID = "Mcp-Session-Id"

	// HeaderKeyProtocolVersion carries the negotiated protocol version on
	// requests made after initialization.
	HeaderKeyProtocolVersion = "Mcp-Protocol-Version"

	// HeaderKeyServerKind tells consumers what kind of opsbridge server
	// they're communicating with.
	HeaderKeyServerKind = "X-Opsbridge-Server-Kind"
)

const ServerKindGateway = "gateway"

func StaticHeadersMiddleware(serverKind string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderKeyServerKind, serverKind)
			next.ServeHTTP(w, r)
		})
	}
}
