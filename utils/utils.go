package utils

import (
	"net/http"
)

// Try logs msg along with the error using logFn if err is non-nil, and
// returns true if err was nil. It's intended for cases where an error is
// worth noting but should not change control flow.
func Try(err error, msg string, logFn func(string, ...interface{})) bool {
	if err != nil {
		logFn(msg+": %v", err)
		return false
	}
	return true
}

// RecoveryCallback is called with the value recovered from a panicking
// handler. It should write an appropriate response to w and return true if
// the panic was dealt with; returning false re-panics.
type RecoveryCallback func(w http.ResponseWriter, err any) bool

// RecoverableServeMux wraps http.ServeMux so that a panic inside a handler
// results in a controlled response rather than a dropped connection taking
// the whole service down with it.
type RecoverableServeMux struct {
	mux     *http.ServeMux
	recover RecoveryCallback
}

// NewRecoverableServeMux returns a new RecoverableServeMux using the
// provided recovery callback.
func NewRecoverableServeMux(recover RecoveryCallback) *RecoverableServeMux {
	return &RecoverableServeMux{mux: http.NewServeMux(), recover: recover}
}

// Handle registers the handler for the given pattern.
func (m *RecoverableServeMux) Handle(pattern string, handler http.Handler) {
	m.mux.Handle(pattern, handler)
}

// HandleFunc registers the handler function for the given pattern.
func (m *RecoverableServeMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.mux.HandleFunc(pattern, handler)
}

// ServeHTTP dispatches the request to the underlying mux, recovering any
// panic via the recovery callback.
func (m *RecoverableServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			if m.recover == nil || !m.recover(w, err) {
				panic(err)
			}
		}
	}()
	m.mux.ServeHTTP(w, r)
}
