// Package testutil holds helpers shared by package tests.
package testutil

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// CassetteClient returns an HTTP client that replays
// testdata/fixtures/<name>.yaml. Set VCR_MODE=record to capture the cassette
// from a live endpoint instead. The recorder is stopped when the test ends.
func CassetteClient(t *testing.T, name string) *http.Client {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	r, err := recorder.NewAsMode(filepath.Join("testdata", "fixtures", name), mode, nil)
	if err != nil {
		t.Fatalf("failed to open cassette %s: %v", name, err)
	}

	r.SetMatcher(matchRequest)

	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("failed to stop recorder: %v", err)
		}
	})

	return &http.Client{Transport: r}
}

// matchRequest matches on method, URL and body so several predictions
// against one endpoint can share a cassette.
func matchRequest(r *http.Request, i cassette.Request) bool {
	if r.Method != i.Method || r.URL.String() != i.URL {
		return false
	}
	if r.Body == nil {
		return i.Body == ""
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return string(body) == i.Body
}
