package ratelimit

import "net/http"

// annotatingWriter appends one X-Ratelimit value the moment the response
// status is committed. Deferring the Add until write-out is what keeps
// stacked limiters ordered: each layer wraps the writer handed to it, so the
// innermost layer's WriteHeader fires first and its line lands first, with
// every outer layer appending behind it on the way back out.
type annotatingWriter struct {
	http.ResponseWriter
	line  string
	wrote bool
}

func (w *annotatingWriter) WriteHeader(code int) {
	if !w.wrote {
		w.wrote = true
		w.Header().Add(RateLimitHeader, w.line)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *annotatingWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *annotatingWriter) Flush() {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *annotatingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// finish covers handlers that return without writing anything: the server
// will commit an implicit 200 after the chain unwinds, so the annotation can
// still be added to the pending headers here.
func (w *annotatingWriter) finish() {
	if !w.wrote {
		w.wrote = true
		w.Header().Add(RateLimitHeader, w.line)
	}
}
