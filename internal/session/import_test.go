package session

import (
	"strings"
	"testing"
	"time"
)

func TestParseJSON(t *testing.T) {
	in := `[
		{"name": "sid", "value": "abc", "domain": ".shop.test", "path": "/", "expirationDate": 1800000000, "httpOnly": true},
		{"name": "theme", "value": "dark", "expires": 1700000000},
		{"value": "nameless"}
	]`
	cookies, err := ParseJSON(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}
	if cookies[0].Expires != 1800000000 || !cookies[0].HTTPOnly {
		t.Errorf("first cookie = %+v", cookies[0])
	}
	if cookies[1].Expires != 1700000000 {
		t.Errorf("second cookie = %+v", cookies[1])
	}

	if _, err := ParseJSON(strings.NewReader("{")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestParseNetscape(t *testing.T) {
	in := strings.Join([]string{
		"# Netscape HTTP Cookie File",
		"",
		".shop.test\tTRUE\t/\tTRUE\t1800000000\tsid\tabc",
		"#HttpOnly_.shop.test\tTRUE\t/\tFALSE\t0\tcsrf\txyz",
		"broken line",
	}, "\n")

	cookies, err := ParseNetscape(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseNetscape: %v", err)
	}
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2: %+v", len(cookies), cookies)
	}
	if c := cookies[0]; c.Name != "sid" || c.Value != "abc" || !c.Secure || c.Expires != 1800000000 {
		t.Errorf("first cookie = %+v", c)
	}
	if c := cookies[1]; c.Name != "csrf" || !c.HTTPOnly || c.Expires != 0 {
		t.Errorf("second cookie = %+v", c)
	}
}

func TestFromCookies_EarliestExpiry(t *testing.T) {
	now := time.Unix(1_600_000_000, 0)
	s := FromCookies("shop", "https://shop.test", []Cookie{
		{Name: "a", Expires: 1_900_000_000},
		{Name: "b", Expires: 1_700_000_000},
		{Name: "c"},
	}, now)
	if !s.ExpiresAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}
}
