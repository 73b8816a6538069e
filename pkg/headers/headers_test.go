package headers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticHeadersMiddleware(t *testing.T) {
	h := StaticHeadersMiddleware(ServerKindGateway)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, ServerKindGateway, rec.Header().Get(HeaderKeyServerKind))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
