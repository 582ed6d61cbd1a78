package httputil

import (
	"net/http"
	"sort"
	"strings"
)

type supportedMethods struct {
	methods []string
	h       http.Handler
}

// SupportedMethods wraps a handler to reject requests whose method is not
// in the provided list with a 405 and an Allow header listing the methods
// that are. OPTIONS requests get a 200 with the same Allow header.
func SupportedMethods(h http.Handler, methods []string) http.Handler {
	sort.Strings(methods)
	return &supportedMethods{
		methods: methods,
		h:       h,
	}
}

func (sm *supportedMethods) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, m := range sm.methods {
		if r.Method == m {
			sm.h.ServeHTTP(w, r)
			return
		}
	}

	w.Header().Set("Allow", strings.Join(sm.methods, ", "))
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
