package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealthz(t *testing.T) {
	srv := &Server{transportFmt: "fp32"}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(srv.handleHealthz).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestHandleStatusJSON(t *testing.T) {
	srv := &Server{transportFmt: "fp16"}
	srv.status = Status{Transfers: 3, Nodes: 42, Edges: 99, LastTransfer: time.Now()}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	http.HandlerFunc(srv.handleStatus).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var st Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, int64(3), st.Transfers)
	assert.Equal(t, int64(42), st.Nodes)
	assert.Equal(t, "fp16", st.TransportFmt)
}

func TestHandleStatusCBOR(t *testing.T) {
	srv := &Server{transportFmt: "fp32"}
	srv.status = Status{Transfers: 1, Edges: 7}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Accept", "application/cbor")
	rr := httptest.NewRecorder()
	http.HandlerFunc(srv.handleStatus).ServeHTTP(rr, req)

	assert.Equal(t, "application/cbor", rr.Header().Get("Content-Type"))
	var st Status
	require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, int64(1), st.Transfers)
	assert.Equal(t, int64(7), st.Edges)
}
