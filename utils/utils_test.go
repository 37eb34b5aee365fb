package utils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecoverableServeMux(t *testing.T) {
	var recoveredErr any

	recoveryCallback := func(w http.ResponseWriter, err any) bool {
		recoveredErr = err
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return true
	}

	mux := NewRecoverableServeMux(recoveryCallback)

	// Add a handler that will panic.
	mux.HandleFunc("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(fmt.Sprintf("%s/panic", server.URL))
	if err != nil {
		t.Fatalf("failed to send request: %v", err)
	}
	defer resp.Body.Close()

	// Check we got internal server error, recover was called, and the error was as expected.
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status code 500, got %d", resp.StatusCode)
	}
	if recoveredErr == nil {
		t.Fatal("expected panic to be recovered, but it was not")
	}
	if recoveredErr != "test panic" {
		t.Fatalf("expected recovered error to be 'test panic', got %v", recoveredErr)
	}
}

func TestTry(t *testing.T) {
	var logged string
	logFn := func(msg string, args ...interface{}) { logged = fmt.Sprintf(msg, args...) }

	if !Try(nil, "should not log", logFn) {
		t.Error("expected true for nil error")
	}
	if logged != "" {
		t.Errorf("expected nothing logged, got %q", logged)
	}

	if Try(fmt.Errorf("boom"), "operation failed", logFn) {
		t.Error("expected false for non-nil error")
	}
	if logged != "operation failed: boom" {
		t.Errorf("unexpected log output: %q", logged)
	}
}
