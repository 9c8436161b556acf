package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ShanRaboy11/unitap/ledger"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	submitFn   string
	submitArgs []string
	evalPath   string
	result     []byte
	err        error
}

func (f *fakeLedger) SubmitTransaction(_ context.Context, fn string, args ...string) ([]byte, error) {
	f.submitFn = fn
	f.submitArgs = args
	return f.result, f.err
}

func (f *fakeLedger) EvaluateTransaction(_ context.Context, path string) ([]byte, error) {
	f.evalPath = path
	return f.result, f.err
}

func newTestServer(lgr Ledger) http.Handler {
	ws := NewWebServer(lgr, "0", cmtlog.NewNopLogger(), nil, nil, nil)
	return ws.Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateTransactionRoute(t *testing.T) {
	lgr := &fakeLedger{result: []byte(`{"id":"t1"}`)}
	h := newTestServer(lgr)

	rec := doRequest(t, h, http.MethodPost, "/tx/create",
		`{"id":"t1","user_id":"u1","amount":"1500.00","type":"withdraw"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "createTransaction", lgr.submitFn)
	assert.Equal(t, []string{"t1", "u1", "", "1500.00", "", "", "withdraw", "", ""}, lgr.submitArgs)

	var resp ClientResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	assert.JSONEq(t, `{"id":"t1"}`, string(resp.Result))
}

func TestQrRoutes(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		lgr := &fakeLedger{result: []byte(`{}`)}
		rec := doRequest(t, newTestServer(lgr), http.MethodPost, "/qr/create",
			`{"token_signature":"sig-1","user_id":"u1","amount_locked":"200","expires_at":"2026-02-01T00:00:00Z"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "createQrToken", lgr.submitFn)
		assert.Equal(t, []string{"sig-1", "u1", "", "200", "2026-02-01T00:00:00Z"}, lgr.submitArgs)
	})

	t.Run("verify", func(t *testing.T) {
		lgr := &fakeLedger{result: []byte(`{}`)}
		rec := doRequest(t, newTestServer(lgr), http.MethodPost, "/qr/verify",
			`{"token_signature":"sig-1","scanner_id":"terminal-7"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "verifyQrToken", lgr.submitFn)
		assert.Equal(t, []string{"sig-1", "terminal-7"}, lgr.submitArgs)
	})

	t.Run("purge with default limit", func(t *testing.T) {
		lgr := &fakeLedger{result: []byte(`[]`)}
		rec := doRequest(t, newTestServer(lgr), http.MethodPost, "/qr/purge", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "purgeExpiredQrTokens", lgr.submitFn)
		assert.Equal(t, []string{""}, lgr.submitArgs)
	})

	t.Run("purge with limit", func(t *testing.T) {
		lgr := &fakeLedger{result: []byte(`[]`)}
		rec := doRequest(t, newTestServer(lgr), http.MethodPost, "/qr/purge", `{"limit":"10"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"10"}, lgr.submitArgs)
	})

	t.Run("get by signature", func(t *testing.T) {
		lgr := &fakeLedger{result: []byte(`{"tokenSignature":"sig-1"}`)}
		rec := doRequest(t, newTestServer(lgr), http.MethodGet, "/qr/sig-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "qr/sig-1", lgr.evalPath)
	})
}

func TestEvaluateRoutes(t *testing.T) {
	t.Run("transaction by id", func(t *testing.T) {
		lgr := &fakeLedger{result: []byte(`{"id":"t1"}`)}
		rec := doRequest(t, newTestServer(lgr), http.MethodGet, "/tx/t1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "tx/t1", lgr.evalPath)
	})

	t.Run("user transactions", func(t *testing.T) {
		lgr := &fakeLedger{result: []byte(`[]`)}
		rec := doRequest(t, newTestServer(lgr), http.MethodGet, "/user/u1/transactions", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user/u1/transactions", lgr.evalPath)
	})

	t.Run("malformed user path", func(t *testing.T) {
		lgr := &fakeLedger{}
		rec := doRequest(t, newTestServer(lgr), http.MethodGet, "/user/u1/balance", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &ledger.Error{Kind: ledger.KindValidation, Reason: "userId is required"}, http.StatusBadRequest},
		{"not found", &ledger.Error{Kind: ledger.KindNotFound, Reason: "QR token x not found"}, http.StatusNotFound},
		{"already exists", &ledger.Error{Kind: ledger.KindAlreadyExists, Reason: "transaction t1 already exists"}, http.StatusConflict},
		{"already consumed", &ledger.Error{Kind: ledger.KindAlreadyConsumed, Reason: "QR token x has already been scanned"}, http.StatusConflict},
		{"expired", &ledger.Error{Kind: ledger.KindExpired, Reason: "QR token x has expired"}, http.StatusGone},
		{"internal", &ledger.Error{Kind: ledger.KindInternal, Reason: "store failure"}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lgr := &fakeLedger{err: tc.err}
			rec := doRequest(t, newTestServer(lgr), http.MethodPost, "/qr/verify",
				`{"token_signature":"x"}`)
			assert.Equal(t, tc.status, rec.Code)

			var body struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Error, tc.err.(*ledger.Error).Reason)
		})
	}
}

func TestMethodAndBodyValidation(t *testing.T) {
	lgr := &fakeLedger{}
	h := newTestServer(lgr)

	rec := doRequest(t, h, http.MethodGet, "/tx/create", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/tx/t1", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/tx/create", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, lgr.submitFn)
}

func TestHealthWithoutNode(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeLedger{}), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["uptime"])
}

func TestMetadataWithoutNode(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeLedger{}), http.MethodGet, "/metadata", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unitap-ledger", body["service"])
}
