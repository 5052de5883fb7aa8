package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

var compress = chimiddleware.Compress(5, "text/html", "application/json")

type gzipBody struct {
	*gzip.Reader
	src io.ReadCloser
}

func (b *gzipBody) Close() error {
	if err := b.Reader.Close(); err != nil {
		_ = b.src.Close()
		return err
	}
	return b.src.Close()
}

// GzipMiddleware распаковывает тела запросов с Content-Encoding: gzip
// и сжимает JSON и HTML ответы для клиентов, принимающих gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	compressed := compress(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			r.Body = &gzipBody{Reader: zr, src: r.Body}
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}
		compressed.ServeHTTP(w, r)
	})
}
