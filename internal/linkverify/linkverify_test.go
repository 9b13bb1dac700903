package linkverify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestVerifier(t *testing.T, body string, status int) (*Verifier, string) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	v := New(Config{Platforms: map[string][]string{"moltbook": {"127.0.0.1"}, "moltx": {"moltx.example"}}}, ts.Client(), nil)
	return v, ts.URL + "/agentx/post/1"
}

func TestVerify_Found(t *testing.T) {
	v, url := newTestVerifier(t, `<html><body><p>hello NEBULON-LINK-@agent</p></body></html>`, http.StatusOK)
	if err := v.Verify(context.Background(), "moltbook", "@agent", "@agentx", url); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_MarkerSplitAcrossTags(t *testing.T) {
	v, url := newTestVerifier(t, `<p>NEBULON-LINK-<b>@agent</b></p>`, http.StatusOK)
	if err := v.Verify(context.Background(), "moltbook", "@agent", "@agentx", url); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_IgnoresScripts(t *testing.T) {
	v, url := newTestVerifier(t, `<script>var s = "NEBULON-LINK-@agent";</script><p>nothing</p>`, http.StatusOK)
	err := v.Verify(context.Background(), "moltbook", "@agent", "@agentx", url)
	if !errors.Is(err, ErrPatternNotFound) {
		t.Fatalf("Verify error = %v, want %v", err, ErrPatternNotFound)
	}
}

func TestVerify_WrongHandle(t *testing.T) {
	v, url := newTestVerifier(t, `<p>NEBULON-LINK-@other</p>`, http.StatusOK)
	err := v.Verify(context.Background(), "moltbook", "@agent", "@agentx", url)
	if !errors.Is(err, ErrPatternNotFound) {
		t.Fatalf("Verify error = %v, want %v", err, ErrPatternNotFound)
	}
}

func TestVerify_Unavailable(t *testing.T) {
	v, url := newTestVerifier(t, "gone", http.StatusNotFound)
	err := v.Verify(context.Background(), "moltbook", "@agent", "@agentx", url)
	if !errors.Is(err, ErrPostUnavailable) {
		t.Fatalf("Verify error = %v, want %v", err, ErrPostUnavailable)
	}
}

func TestVerify_UnsupportedPlatform(t *testing.T) {
	v, url := newTestVerifier(t, "", http.StatusOK)
	err := v.Verify(context.Background(), "myspace", "@agent", "@agentx", url)
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("Verify error = %v, want %v", err, ErrUnsupportedPlatform)
	}
}

func TestVerify_HostRestriction(t *testing.T) {
	v, url := newTestVerifier(t, `<p>NEBULON-LINK-@agent</p>`, http.StatusOK)
	err := v.Verify(context.Background(), "moltx", "@agent", "@agentx", url)
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("Verify error = %v, want %v", err, ErrInvalidURL)
	}
	err = v.Verify(context.Background(), "moltbook", "@agent", "@agentx", "file:///etc/passwd")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("Verify error = %v, want %v", err, ErrInvalidURL)
	}
}

func TestVerify_EmptyHostListDenies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("post fetched from a platform with no allowed hosts")
	}))
	defer ts.Close()
	v := New(Config{Platforms: map[string][]string{"moltbook": nil}}, ts.Client(), nil)
	err := v.Verify(context.Background(), "moltbook", "@agent", "@agentx", ts.URL+"/agentx/post/1")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("Verify error = %v, want %v", err, ErrInvalidURL)
	}
}

func TestVerify_RedirectOffHost(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://internal.example/metadata", http.StatusFound)
	}))
	defer ts.Close()
	v := New(Config{Platforms: map[string][]string{"moltbook": {"127.0.0.1"}}}, ts.Client(), nil)
	err := v.Verify(context.Background(), "moltbook", "@agent", "@agentx", ts.URL+"/agentx/post/1")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("Verify error = %v, want %v", err, ErrInvalidURL)
	}
}

func TestVerify_AccountMismatch(t *testing.T) {
	v, url := newTestVerifier(t, `<p>NEBULON-LINK-@agent</p>`, http.StatusOK)
	err := v.Verify(context.Background(), "moltbook", "@agent", "@someoneelse", url)
	if !errors.Is(err, ErrAccountMismatch) {
		t.Fatalf("Verify error = %v, want %v", err, ErrAccountMismatch)
	}
}

func TestVerify_AccountInText(t *testing.T) {
	v, url := newTestVerifier(t, `<p>posted by @Carol: NEBULON-LINK-@agent</p>`, http.StatusOK)
	if err := v.Verify(context.Background(), "moltbook", "@agent", "@carol", url); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestHostAllowed(t *testing.T) {
	allowed := []string{"moltx.example"}
	tests := map[string]bool{
		"moltx.example":      true,
		"www.moltx.example":  true,
		"MOLTX.example":      true,
		"evilmoltx.example":  false,
		"moltx.example.evil": false,
		"":                   false,
	}
	for host, want := range tests {
		if got := hostAllowed(host, allowed); got != want {
			t.Errorf("hostAllowed(%q) = %v, want %v", host, got, want)
		}
	}
	if hostAllowed("moltx.example", nil) {
		t.Error("empty allow list accepted a host")
	}
}

func TestPageText(t *testing.T) {
	got, err := pageText(strings.NewReader(`<html><head><style>x{}</style><title>T</title></head><body>a<br>b</body></html>`))
	if err != nil {
		t.Fatalf("pageText: %v", err)
	}
	if got != "Tab" {
		t.Errorf("pageText = %q, want %q", got, "Tab")
	}
}
