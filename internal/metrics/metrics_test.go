package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://Resultados.example.hn/esc/v1", "resultados.example.hn"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchRequestsTotal == nil || stationsTotal == nil || queueDepth == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(fetchRequestsTotal.WithLabelValues(KindData, OutcomeAbsent))
	ObserveFetch(KindData, OutcomeAbsent, "https://api.example.hn/x", 0, 10*time.Millisecond)
	if got := testutil.ToFloat64(fetchRequestsTotal.WithLabelValues(KindData, OutcomeAbsent)); got != before+1 {
		t.Errorf("expected fetch counter to grow by 1, got %f -> %f", before, got)
	}

	beforeBytes := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("api.example.hn"))
	ObserveFetch(KindData, OutcomeOK, "https://api.example.hn/x", 128, time.Millisecond)
	if got := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("api.example.hn")); got != beforeBytes+128 {
		t.Errorf("expected byte counter to grow by 128, got %f", got)
	}

	beforeLost := testutil.ToFloat64(branchesLostTotal.WithLabelValues("zones"))
	ObserveBranchLost("zones")
	if got := testutil.ToFloat64(branchesLostTotal.WithLabelValues("zones")); got != beforeLost+1 {
		t.Errorf("expected branch lost counter to grow by 1, got %f", got)
	}

	SetQueueDepth(7)
	if got := testutil.ToFloat64(queueDepth); got != 7 {
		t.Errorf("expected queue depth 7, got %f", got)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(crawlerActiveWorkers); got < 1 {
		t.Errorf("expected at least one active worker, got %f", got)
	}
	DecActiveWorkers()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://resultados.example.hn", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
