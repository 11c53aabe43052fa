package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func serve(method, pattern string, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Method(method, pattern, handler)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postJSON(path string, body []byte, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest), rec.Body.String())
}

// korapaySignature signs the compact data object the way Korapay does.
func korapaySignature(t *testing.T, body []byte, secret string) string {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	var compact bytes.Buffer
	require.NoError(t, json.Compact(&compact, envelope.Data))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(compact.Bytes())
	return hex.EncodeToString(mac.Sum(nil))
}
