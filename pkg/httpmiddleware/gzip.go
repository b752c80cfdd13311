package httpmiddleware

import (
	"bufio"
	"compress/gzip"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
)

// Gzip compresses responses for clients that accept gzip. Upgrade requests
// and HEAD requests are passed through untouched.
func Gzip(level int) Middleware {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	pool := &sync.Pool{New: func() any {
		zw, err := pgzip.NewWriterLevel(nil, level)
		if err != nil {
			zw, _ = pgzip.NewWriterLevel(nil, gzip.DefaultCompression)
		}
		return zw
	}}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Accept-Encoding")
			if r.Method == http.MethodHead ||
				r.Header.Get("Upgrade") != "" ||
				!acceptsGzip(r.Header.Get("Accept-Encoding")) {
				next.ServeHTTP(w, r)
				return
			}

			gw := &gzipWriter{ResponseWriter: w, pool: pool}
			defer gw.Close()
			next.ServeHTTP(gw, r)
		})
	}
}

func acceptsGzip(header string) bool {
	for part := range strings.SplitSeq(header, ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}

// gzipWriter compresses once the header is written unless the handler set
// its own Content-Encoding or the status carries no body.
type gzipWriter struct {
	http.ResponseWriter
	pool        *sync.Pool
	zw          *pgzip.Writer
	wroteHeader bool
	passthrough bool
}

func (w *gzipWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	h := w.Header()
	if h.Get("Content-Encoding") != "" || code == http.StatusNoContent || code == http.StatusNotModified || code < 200 {
		w.passthrough = true
		w.ResponseWriter.WriteHeader(code)
		return
	}
	h.Del("Content-Length")
	h.Set("Content-Encoding", "gzip")
	w.ResponseWriter.WriteHeader(code)
	w.zw = w.pool.Get().(*pgzip.Writer)
	w.zw.Reset(w.ResponseWriter)
}

func (w *gzipWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", http.DetectContentType(b))
		}
		w.WriteHeader(http.StatusOK)
	}
	if w.passthrough {
		return w.ResponseWriter.Write(b)
	}
	return w.zw.Write(b)
}

func (w *gzipWriter) Flush() {
	if w.zw != nil {
		_ = w.zw.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Close flushes the compressed stream and returns the writer to the pool.
func (w *gzipWriter) Close() {
	if w.zw == nil {
		return
	}
	_ = w.zw.Close()
	w.pool.Put(w.zw)
	w.zw = nil
}

func (w *gzipWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *gzipWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
