package adminserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// Test_Health_Endpoint checks /health answers 200 both before and after
// MarkTerminated, and that MarkTerminated sets the terminated flag, using
// fiber's in-process app.Test the way the teacher's pipe_test.go exercises
// its own fiber.App.
func Test_Health_Endpoint(t *testing.T) {
	s := New("test_graph", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	s.MarkTerminated()

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err = s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test returned error: %v", err)
	}
	if !s.terminated.Load() {
		t.Fatal("terminated flag not set after MarkTerminated")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

// Test_Stats_Endpoint_NoWriter checks /stats degrades to an empty object
// rather than erroring when no StatsWriter was attached.
func Test_Stats_Endpoint_NoWriter(t *testing.T) {
	s := New("test_graph", nil)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}
