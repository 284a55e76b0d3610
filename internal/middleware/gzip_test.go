package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		defer r.Body.Close()

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("received: " + string(body)))
	}
}

func TestGzipMiddleware(t *testing.T) {
	type want struct {
		contentEncoding string
		bodyContains    string
	}

	tests := []struct {
		name           string
		requestBody    string
		contentType    string
		gzipRequest    bool
		acceptEncoding string
		want           want
	}{
		{
			name:           "json response compressed",
			requestBody:    `{"lines":[]}`,
			contentType:    "application/json",
			acceptEncoding: "gzip",
			want:           want{contentEncoding: "gzip", bodyContains: `received: {"lines":[]}`},
		},
		{
			name:           "client does not accept gzip",
			requestBody:    "plain request",
			contentType:    "application/json",
			acceptEncoding: "",
			want:           want{contentEncoding: "", bodyContains: "received: plain request"},
		},
		{
			name:           "binary response left as is",
			requestBody:    "png",
			contentType:    "image/png",
			acceptEncoding: "gzip",
			want:           want{contentEncoding: "", bodyContains: "received: png"},
		},
		{
			name:           "compressed request body",
			requestBody:    `{"type":"RETURN"}`,
			contentType:    "application/json",
			gzipRequest:    true,
			acceptEncoding: "gzip",
			want:           want{contentEncoding: "gzip", bodyContains: `received: {"type":"RETURN"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestBody io.Reader = strings.NewReader(tt.requestBody)
			if tt.gzipRequest {
				var buf bytes.Buffer
				gz := gzip.NewWriter(&buf)
				_, err := gz.Write([]byte(tt.requestBody))
				require.NoError(t, err)
				require.NoError(t, gz.Close())
				requestBody = &buf
			}

			req := httptest.NewRequest(http.MethodPost, "/api/orders", requestBody)
			if tt.gzipRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}
			req.Header.Set("Accept-Encoding", tt.acceptEncoding)

			w := httptest.NewRecorder()
			GzipMiddleware(echoHandler(tt.contentType)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			assert.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, tt.contentType, res.Header.Get("Content-Type"))
			assert.Equal(t, tt.want.contentEncoding, res.Header.Get("Content-Encoding"))

			var reader io.Reader = res.Body
			if res.Header.Get("Content-Encoding") == "gzip" {
				gr, err := gzip.NewReader(res.Body)
				require.NoError(t, err)
				defer gr.Close()
				reader = gr
			}
			body, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.want.bodyContains)
		})
	}
}

func TestGzipMiddleware_BrokenRequestBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")

	w := httptest.NewRecorder()
	GzipMiddleware(echoHandler("application/json")).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestGzipMiddleware_EmptyBodyNotLabelled(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "created without body", status: http.StatusCreated},
		{name: "no content", status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
			req.Header.Set("Accept-Encoding", "gzip")

			w := httptest.NewRecorder()
			GzipMiddleware(handler).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			assert.Equal(t, tt.status, res.StatusCode)
			assert.Empty(t, res.Header.Get("Content-Encoding"))
			body, err := io.ReadAll(res.Body)
			require.NoError(t, err)
			assert.Empty(t, body)
		})
	}
}
