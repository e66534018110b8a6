package urlx

import "testing"

func TestParseDefaultsPort(t *testing.T) {
	u, err := Parse("https://usher.ttvnw.net/api/channel/hls/foo.m3u8?a=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Scheme() != "https" {
		t.Fatalf("scheme = %q", u.Scheme())
	}
	if u.Host() != "usher.ttvnw.net" {
		t.Fatalf("host = %q", u.Host())
	}
	if u.Port() != "443" {
		t.Fatalf("port = %q", u.Port())
	}
	if u.Path() != "/api/channel/hls/foo.m3u8" {
		t.Fatalf("path = %q", u.Path())
	}
	if u.Query() != "a=1" {
		t.Fatalf("query = %q", u.Query())
	}
}

func TestParseExplicitPort(t *testing.T) {
	u, err := Parse("http://example.invalid:8080/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Port() != "8080" {
		t.Fatalf("port = %q", u.Port())
	}
}

func TestParseMissingScheme(t *testing.T) {
	if _, err := Parse("example.invalid/x"); err == nil {
		t.Fatal("expected error for missing scheme")
	}
}

func TestParseMissingHost(t *testing.T) {
	if _, err := Parse("http:///x"); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestParseBadPort(t *testing.T) {
	if _, err := Parse("http://host:notaport/x"); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestSameHostPathOnlyChange(t *testing.T) {
	a, _ := Parse("https://cdn.invalid/seg1.ts")
	b, _ := Parse("https://cdn.invalid/seg2.ts")
	if !a.SameHost(b) {
		t.Fatal("expected same host for path-only change")
	}

	c, _ := Parse("https://other-cdn.invalid/seg2.ts")
	if a.SameHost(c) {
		t.Fatal("expected different host")
	}
}

func TestEqualIgnoresNothingExceptAllFields(t *testing.T) {
	a, _ := Parse("https://cdn.invalid/seg1.ts?x=1")
	b, _ := Parse("https://cdn.invalid/seg1.ts?x=1")
	if !a.Equal(b) {
		t.Fatal("expected equal URLs")
	}
}

func TestNoPathDefaultsToSlash(t *testing.T) {
	u, err := Parse("http://host.invalid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Path() != "/" {
		t.Fatalf("path = %q", u.Path())
	}
}
