package httputil

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/voxrelay/backend/libs/conc"
	"github.com/voxrelay/backend/libs/golog"
)

var hostname string

func init() {
	var err error
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
}

type requestIDContextKey struct{}

type logMapContextKey struct{}

// CtxLogMap returns the log map that handlers can use to attach contextual
// information for the request log line. Returns nil when the request was not
// wrapped with LoggingHandler; conc.Map methods are nil safe.
func CtxLogMap(ctx context.Context) *conc.Map {
	m, _ := ctx.Value(logMapContextKey{}).(*conc.Map)
	return m
}

// RequestEvent is a request/response log event
type RequestEvent struct {
	Timestamp       time.Time
	ResponseTime    time.Duration
	ServerHostname  string
	StatusCode      int
	ResponseHeaders http.Header
	Request         *http.Request
	// URL is provided separate from the request as it was copied before calling
	// sub handlers as they might change the URL (e.g. http.StripPrefix)
	URL *url.URL
	// RemoteAddr is a normalized version of r.RemoteAddr that removes any port number
	RemoteAddr string
	// Panic and StackTrace are set if a sub handler panics
	Panic      interface{}
	StackTrace []byte
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	w.statusCode = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// RequestID returns the request ID for an HTTP request. RequestIDHandler
// must be used to guarantee that a request ID exists; returns 0 otherwise.
func RequestID(ctx context.Context) uint64 {
	reqID, _ := ctx.Value(requestIDContextKey{}).(uint64)
	return reqID
}

// CtxWithRequestID adds a request ID to the context
func CtxWithRequestID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

type requestIDHandler struct {
	h http.Handler
}

// RequestIDHandler wraps a handler to provide generation of a unique
// request ID per request. The ID is available by calling RequestID(ctx).
func RequestIDHandler(h http.Handler) http.Handler {
	return &requestIDHandler{h: h}
}

func (h *requestIDHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var b [8]byte
	var requestID uint64
	if _, err := rand.Read(b[:]); err == nil {
		requestID = binary.BigEndian.Uint64(b[:])
	} else {
		golog.Errorf("Failed to generate request ID: %s", err)
	}
	w.Header().Set("S-Request-ID", strconv.FormatUint(requestID, 10))
	h.h.ServeHTTP(w, r.WithContext(CtxWithRequestID(r.Context(), requestID)))
}

// LogFunc is a function that logs http request events. The RequestEvent object
// is only valid during the call and should not be kept after it returns.
type LogFunc func(context.Context, *RequestEvent)

type loggingHandler struct {
	h           http.Handler
	appName     string
	behindProxy bool
	alog        LogFunc
}

// LoggingHandler wraps a handler to provide request logging. alog is optional,
// but if provided it overrides the default logging to golog.
func LoggingHandler(h http.Handler, appName string, behindProxy bool, alog LogFunc) http.Handler {
	return &loggingHandler{
		h:           h,
		appName:     appName,
		behindProxy: behindProxy,
		alog:        alog,
	}
}

func (h *loggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logrw := &loggingResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}

	startTime := time.Now()

	ctx := context.WithValue(r.Context(), logMapContextKey{}, conc.NewMap())

	// Save the URL here in case it gets mangled by the time the defer gets
	// called (e.g. http.StripPrefix).
	earl := *r.URL
	defer func() {
		rerr := recover()

		ev := &RequestEvent{
			Timestamp:       startTime,
			StatusCode:      logrw.statusCode,
			ResponseHeaders: logrw.Header(),
			Request:         r,
			URL:             &earl,
			RemoteAddr:      RemoteAddrFromRequest(r, h.behindProxy),
			ResponseTime:    time.Since(startTime),
			ServerHostname:  hostname,
		}
		if rerr != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			ev.Panic = rerr
			ev.StackTrace = buf
			if !logrw.wroteHeader {
				w.WriteHeader(http.StatusInternalServerError)
			}
			ev.StatusCode = http.StatusInternalServerError
		}

		if h.alog != nil {
			h.alog(ctx, ev)
		} else {
			var contextVals []interface{}
			CtxLogMap(ctx).Transact(func(m map[interface{}]interface{}) {
				contextVals = make([]interface{}, 0, 2*(len(m)+7))
				for k, v := range m {
					contextVals = append(contextVals, k, v)
				}
			})
			contextVals = append(contextVals,
				"App", h.appName,
				"Method", ev.Request.Method,
				"URL", ev.URL.String(),
				"UserAgent", ev.Request.UserAgent(),
				"RequestID", RequestID(ctx),
				"RemoteAddr", ev.RemoteAddr,
				"StatusCode", ev.StatusCode,
			)
			log := golog.Context(contextVals...)
			if ev.Panic != nil {
				log.Criticalf("http: panic: %v\n%s", ev.Panic, ev.StackTrace)
			} else {
				log.Infof(h.appName + " httprequest")
			}
		}
	}()

	h.h.ServeHTTP(logrw, r.WithContext(ctx))
}
