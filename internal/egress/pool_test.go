package egress

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNext_RoundRobin(t *testing.T) {
	pool := NewPool([]string{"http://p0:8080", "http://p1:8080", "http://p2:8080"})

	want := []string{
		"http://p0:8080", "http://p1:8080", "http://p2:8080",
		"http://p0:8080", "http://p1:8080", "http://p2:8080",
		"http://p0:8080",
	}
	for i, w := range want {
		if got := pool.Next(); got != w {
			t.Fatalf("call %d: expected %s, got %s", i, w, got)
		}
	}
}

func TestNext_EmptyPool(t *testing.T) {
	pool := NewPool(nil)
	if got := pool.Next(); got != "" {
		t.Fatalf("expected empty proxy, got %q", got)
	}
	if pool.Size() != 0 {
		t.Fatalf("expected size 0, got %d", pool.Size())
	}
}

func TestNewPool_DropsBlankLines(t *testing.T) {
	pool := NewPool([]string{"", "  ", "http://p0:8080", "\t", "http://p1:8080", ""})
	if pool.Size() != 2 {
		t.Fatalf("expected 2 proxies, got %d", pool.Size())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "http://p0:8080\n\nhttp://p1:8080\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write proxies file: %v", err)
	}

	pool := LoadFile(path)
	if pool.Size() != 2 {
		t.Fatalf("expected 2 proxies, got %d", pool.Size())
	}
	if got := pool.Next(); got != "http://p0:8080" {
		t.Fatalf("expected first proxy, got %q", got)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	pool := LoadFile(filepath.Join(t.TempDir(), "absent.txt"))
	if pool.Size() != 0 {
		t.Fatalf("expected empty pool for missing file, got %d", pool.Size())
	}
}

func TestClientFor(t *testing.T) {
	pool := NewPool(nil)

	direct := pool.ClientFor("")
	if direct.Transport != nil {
		t.Fatal("direct client should use the default transport")
	}

	proxied := pool.ClientFor("http://p0:8080")
	transport, ok := proxied.Transport.(*http.Transport)
	if !ok || transport.Proxy == nil {
		t.Fatalf("expected proxying transport, got %#v", proxied.Transport)
	}
	u, err := transport.Proxy(httptest.NewRequest(http.MethodGet, "https://example.com/", nil))
	if err != nil {
		t.Fatalf("resolve proxy: %v", err)
	}
	if u.String() != "http://p0:8080" {
		t.Fatalf("expected proxy URL, got %s", u)
	}
}

func TestNextClient_RotatesOnEveryCall(t *testing.T) {
	pool := NewPool([]string{"http://p0:8080", "http://p1:8080"})

	_, first := pool.NextClient()
	_, second := pool.NextClient()
	_, third := pool.NextClient()
	if first != "http://p0:8080" || second != "http://p1:8080" || third != "http://p0:8080" {
		t.Fatalf("unexpected rotation order: %s %s %s", first, second, third)
	}
}
