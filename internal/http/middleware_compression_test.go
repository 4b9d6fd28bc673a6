package httpx

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipRequest(t *testing.T, handler http.Handler, method, acceptEncoding string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, "/", nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Result()
}

func gunzip(t *testing.T, r io.Reader) string {
	t.Helper()

	gr, err := gzip.NewReader(r)
	require.NoError(t, err)
	defer gr.Close()
	body, err := io.ReadAll(gr)
	require.NoError(t, err)
	return string(body)
}

func jsonBodyHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}

func TestCompression_RoundTrip(t *testing.T) {
	body := strings.Repeat(`{"status":"scheduled"}`, 500)

	tests := []struct {
		name           string
		acceptEncoding string
		level          int
		wantGzip       bool
	}{
		{name: "client accepts gzip", acceptEncoding: "gzip, deflate", level: 6, wantGzip: true},
		{name: "client does not accept gzip", acceptEncoding: "deflate", level: 6, wantGzip: false},
		{name: "no accept-encoding header", acceptEncoding: "", level: 6, wantGzip: false},
		{name: "fastest level", acceptEncoding: "gzip", level: 1, wantGzip: true},
		{name: "best level", acceptEncoding: "gzip", level: 9, wantGzip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Compression(CompressionConfig{Level: tt.level})(jsonBodyHandler(body))
			resp := gzipRequest(t, handler, http.MethodGet, tt.acceptEncoding)
			defer resp.Body.Close()

			if tt.wantGzip {
				assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
				assert.Empty(t, resp.Header.Get("Content-Length"), "length changes under compression")
				assert.Equal(t, "Accept-Encoding", resp.Header.Get("Vary"))
				assert.Equal(t, body, gunzip(t, resp.Body))
				return
			}

			assert.NotEqual(t, "gzip", resp.Header.Get("Content-Encoding"))
			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, body, string(raw))
		})
	}
}

func TestCompression_StatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		writeBody bool
		wantGzip  bool
	}{
		{name: "200 compresses", status: http.StatusOK, writeBody: true, wantGzip: true},
		{name: "404 compresses", status: http.StatusNotFound, writeBody: true, wantGzip: true},
		{name: "500 compresses", status: http.StatusInternalServerError, writeBody: true, wantGzip: true},
		{name: "204 passes through", status: http.StatusNoContent, wantGzip: false},
		{name: "304 passes through", status: http.StatusNotModified, wantGzip: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.writeBody {
					w.Header().Set("Content-Type", "application/json")
				}
				w.WriteHeader(tt.status)
				if tt.writeBody {
					_, _ = w.Write([]byte(`{"ok":false}`))
				}
			})
			handler := Compression(CompressionConfig{Level: 6})(inner)
			resp := gzipRequest(t, handler, http.MethodGet, "gzip")
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.wantGzip {
				assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
			} else {
				assert.NotEqual(t, "gzip", resp.Header.Get("Content-Encoding"))
			}
		})
	}
}

func TestCompression_ContentTypeFiltering(t *testing.T) {
	tests := []struct {
		contentType string
		wantGzip    bool
	}{
		{contentType: "application/json", wantGzip: true},
		{contentType: "application/json; charset=utf-8", wantGzip: true},
		{contentType: "application/xml", wantGzip: true},
		{contentType: "application/javascript", wantGzip: true},
		{contentType: "text/plain", wantGzip: true},
		{contentType: "text/xml", wantGzip: true},
		{contentType: "text/html", wantGzip: false},
		{contentType: "image/png", wantGzip: false},
		{contentType: "application/octet-stream", wantGzip: false},
		{contentType: "application/zip", wantGzip: false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("payload that does not matter"))
			})
			handler := Compression(CompressionConfig{Level: 6})(inner)
			resp := gzipRequest(t, handler, http.MethodGet, "gzip")
			defer resp.Body.Close()

			if tt.wantGzip {
				assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
			} else {
				assert.NotEqual(t, "gzip", resp.Header.Get("Content-Encoding"))
			}
		})
	}
}

func TestCompression_SkipsHEAD(t *testing.T) {
	handler := Compression(CompressionConfig{Level: 6})(jsonBodyHandler(""))
	resp := gzipRequest(t, handler, http.MethodHead, "gzip")
	defer resp.Body.Close()

	assert.NotEqual(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestCompression_AcceptEncodingQValues(t *testing.T) {
	tests := []struct {
		name           string
		acceptEncoding string
		wantGzip       bool
	}{
		{name: "q one", acceptEncoding: "gzip;q=1", wantGzip: true},
		{name: "fractional q", acceptEncoding: "gzip;q=0.5", wantGzip: true},
		{name: "q zero disables", acceptEncoding: "gzip;q=0", wantGzip: false},
		{name: "gzip first", acceptEncoding: "gzip, deflate", wantGzip: true},
		{name: "gzip last", acceptEncoding: "deflate, gzip", wantGzip: true},
		{name: "deflate only", acceptEncoding: "deflate", wantGzip: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Compression(CompressionConfig{Level: 6})(jsonBodyHandler(`{"ok":true}`))
			resp := gzipRequest(t, handler, http.MethodGet, tt.acceptEncoding)
			defer resp.Body.Close()

			if tt.wantGzip {
				assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
			} else {
				assert.NotEqual(t, "gzip", resp.Header.Get("Content-Encoding"))
			}
		})
	}
}

func TestCompression_PreservesExistingEncoding(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "br")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	handler := Compression(CompressionConfig{Level: 6})(inner)
	resp := gzipRequest(t, handler, http.MethodGet, "gzip")
	defer resp.Body.Close()

	assert.Equal(t, "br", resp.Header.Get("Content-Encoding"))
}

func TestCompression_MinSizeBuffering(t *testing.T) {
	t.Run("body below threshold still arrives complete", func(t *testing.T) {
		body := `{"id":"abc"}`
		handler := Compression(CompressionConfig{Level: 6, MinSize: 4096})(jsonBodyHandler(body))
		resp := gzipRequest(t, handler, http.MethodGet, "gzip")
		defer resp.Body.Close()

		require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
		assert.Equal(t, body, gunzip(t, resp.Body))
	})

	t.Run("body crossing threshold over multiple writes", func(t *testing.T) {
		chunk := strings.Repeat("x", 100)
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			for i := 0; i < 10; i++ {
				_, _ = w.Write([]byte(chunk))
			}
		})
		handler := Compression(CompressionConfig{Level: 6, MinSize: 256})(inner)
		resp := gzipRequest(t, handler, http.MethodGet, "gzip")
		defer resp.Body.Close()

		require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
		assert.Equal(t, strings.Repeat("x", 1000), gunzip(t, resp.Body))
	})
}

func TestIsCompressibleContentType(t *testing.T) {
	types := getDefaultCompressibleTypes()

	assert.True(t, isCompressibleContentType("application/json", types))
	assert.True(t, isCompressibleContentType("Application/JSON", types))
	assert.True(t, isCompressibleContentType("application/json; charset=utf-8", types))
	assert.False(t, isCompressibleContentType("", types))
	assert.False(t, isCompressibleContentType("text/html", types))
}
