package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
)

// NewMockServer creates a test HTTP server with specified handlers.
// Handlers are registered for exact path matches.
// Any unmatched paths return 404.
func NewMockServer(handlers map[string]http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()

	for path, handler := range handlers {
		mux.HandleFunc(path, handler)
	}

	return httptest.NewServer(mux)
}

// WithBody creates an HTTP handler that returns body with the given status.
func WithBody(statusCode int, contentType string, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(statusCode)
		_, _ = w.Write(body)
	}
}

// WithStatus creates an HTTP handler that only writes a status code.
func WithStatus(statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusCode)
	}
}

// Counting wraps a handler and counts the requests it served.
func Counting(handler http.HandlerFunc, hits *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		handler(w, r)
	}
}

// MavenMetadata renders a minimal maven-metadata.xml listing versions.
func MavenMetadata(versions ...string) []byte {
	out := "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<metadata>\n" +
		"  <groupId>com.google.cloud.bigdataoss</groupId>\n" +
		"  <artifactId>gcs-connector</artifactId>\n" +
		"  <versioning>\n    <versions>\n"
	for _, v := range versions {
		out += "      <version>" + v + "</version>\n"
	}
	out += "    </versions>\n  </versioning>\n</metadata>\n"
	return []byte(out)
}
