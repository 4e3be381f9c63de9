package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

// compressibleTypes lists content types worth gzipping. Segment data is
// already compressed video and is never touched.
var compressibleTypes = []string{
	"text/html",
	"text/css",
	"text/plain",
	"application/json",
	"application/javascript",
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
}

var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	},
}

type gzipResponseWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer
	compressing bool
	wroteHeader bool
}

func (rw *gzipResponseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true

	if isCompressible(rw.Header().Get("Content-Type")) && rw.Header().Get("Content-Encoding") == "" {
		rw.Header().Set("Content-Encoding", "gzip")
		rw.Header().Del("Content-Length")
		rw.gz.Reset(rw.ResponseWriter)
		rw.compressing = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *gzipResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		if rw.Header().Get("Content-Type") == "" {
			rw.Header().Set("Content-Type", http.DetectContentType(b))
		}
		rw.WriteHeader(http.StatusOK)
	}
	if rw.compressing {
		return rw.gz.Write(b)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *gzipResponseWriter) Flush() {
	if rw.compressing {
		_ = rw.gz.Flush()
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *gzipResponseWriter) close() {
	if rw.compressing {
		_ = rw.gz.Close()
	}
	gzipWriterPool.Put(rw.gz)
}

// Compression returns a middleware that gzips compressible responses
// for clients that accept it.
func Compression() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}

			wrapped := &gzipResponseWriter{
				ResponseWriter: w,
				gz:             gzipWriterPool.Get().(*gzip.Writer),
			}
			defer wrapped.close()

			next.ServeHTTP(wrapped, r)
		})
	}
}

func isCompressible(contentType string) bool {
	if contentType == "" {
		return false
	}
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	for _, t := range compressibleTypes {
		if contentType == t {
			return true
		}
	}
	return false
}
