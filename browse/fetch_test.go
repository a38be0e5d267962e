package browse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsSufficient(t *testing.T) {
	longText := strings.Repeat("Plenty of readable product copy here. ", 20)

	cases := []struct {
		name string
		html string
		want bool
	}{
		{"rich static page", "<html><body><h1>Widget</h1><p>" + longText + "</p></body></html>", true},
		{"tiny body", "<html><body>hi</body></html>", false},
		{"react shell", `<html><body><div id="root"></div><script src="/app.js"></script>` + strings.Repeat("<meta x>", 50) + "</body></html>", false},
		{"noscript wall", "<html><body><noscript>You need to enable JavaScript to run this app.</noscript>" + strings.Repeat("<meta x>", 50) + "</body></html>", false},
		{"script heavy", "<html><body><script>" + strings.Repeat("var x=1;", 200) + "</script><p>short</p></body></html>", false},
	}
	for _, c := range cases {
		if got := isSufficient([]byte(c.html)); got != c.want {
			t.Errorf("%s: isSufficient = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestFetchParsesPage(t *testing.T) {
	body := "<html><body><h1>Widget</h1><p>" +
		strings.Repeat("Plenty of readable product copy here. ", 20) +
		"</p></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "PageRelay") {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher()
	res, err := f.Fetch(context.Background(), "ctx-1", srv.URL+"/widget")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.Sufficient {
		t.Error("static page reported insufficient")
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d", res.StatusCode)
	}
	if res.Page == nil || res.Page.ContextID != "ctx-1" {
		t.Fatalf("page = %+v", res.Page)
	}
}

func TestLoaderEscalationFallback(t *testing.T) {
	// Shell page, no browser configured: the loader falls back to the
	// parsed HTTP body rather than failing.
	shell := `<html><body><div id="root"></div>` + strings.Repeat("<meta x>", 60) + "</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(shell))
	}))
	defer srv.Close()

	load := Loader(NewFetcher(), nil, func(string) string { return srv.URL })
	page, err := load(context.Background(), "ctx-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if page == nil {
		t.Fatal("loader returned nil page")
	}
}

func TestLoaderUnknownContext(t *testing.T) {
	load := Loader(NewFetcher(), nil, func(string) string { return "" })
	if _, err := load(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unregistered context")
	}
}
