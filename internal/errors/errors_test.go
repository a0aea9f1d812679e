package errors

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrMalformedRequest:   http.StatusBadRequest,
		ErrPathTraversal:      http.StatusForbidden,
		ErrNotFound:           http.StatusNotFound,
		ErrMethodNotAllowed:   http.StatusMethodNotAllowed,
		ErrBackendUnreachable: http.StatusBadGateway,
		ErrUpstreamProtocol:   http.StatusBadGateway,
		ErrBackendTimeout:     http.StatusGatewayTimeout,
		ErrIO:                 http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, New(code, "x", nil).Status(), code.String())
	}
}

func TestWrappedErrorKeepsCode(t *testing.T) {
	base := New(ErrBackendTimeout, "waiting for backend", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("forward: %w", base)

	assert.Equal(t, ErrBackendTimeout, CodeOf(wrapped))
	assert.Equal(t, http.StatusGatewayTimeout, StatusOf(wrapped))
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
	assert.Equal(t, ErrorCode(0), CodeOf(io.EOF))
}

func TestWriteHTTPHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, New(ErrNotFound, "missing /srv/www/secret.txt", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/srv/www")
	assert.Contains(t, rec.Body.String(), http.StatusText(http.StatusNotFound))
}
