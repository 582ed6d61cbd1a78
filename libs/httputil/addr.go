package httputil

import (
	"net/http"
	"strings"
)

// UnknownRemoteAddr is returned when the remote address is not present in
// the request or its forwarding headers.
const UnknownRemoteAddr = "UNKNOWN"

// RemoteAddrFromRequest returns the remote address for a request,
// consulting X-Forwarded-For when the service runs behind a proxy.
func RemoteAddrFromRequest(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if addr := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0]); addr != "" {
			return addr
		}
		return UnknownRemoteAddr
	}
	if r.RemoteAddr == "" {
		return UnknownRemoteAddr
	}
	return r.RemoteAddr
}
