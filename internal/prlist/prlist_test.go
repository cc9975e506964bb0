package prlist

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

func TestOpenPRHeads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/uwplse/herbie/pulls" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("state"); got != "open" {
			t.Errorf("state = %q", got)
		}
		w.Write([]byte(`[
			{"number": 17, "head": {"ref": "pavel/fix"}},
			{"number": 23, "head": {"ref": "taxes"}}
		]`))
	}))
	defer server.Close()

	heads, err := New(server.URL).OpenPRHeads(&domain.Repository{GitHub: "uwplse/herbie"})
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 2 || heads["pavel/fix"] != 17 || heads["taxes"] != 23 {
		t.Errorf("heads = %v", heads)
	}
}

func TestOpenPRHeads_NoGitHub(t *testing.T) {
	heads, err := New("").OpenPRHeads(&domain.Repository{})
	if err != nil || heads != nil {
		t.Errorf("got %v, %v for a repo without github upstream", heads, err)
	}
}

func TestOpenPRHeads_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	if _, err := New(server.URL).OpenPRHeads(&domain.Repository{GitHub: "x/y"}); err == nil {
		t.Error("expected error for non-200 response")
	}
}
