package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ParseJSON reads a JSON array of cookies as exported by browser devtools extensions.
// Both "expires" and "expirationDate" are understood.
func ParseJSON(r io.Reader) ([]Cookie, error) {
	var raw []struct {
		Cookie
		ExpirationDate float64 `json:"expirationDate"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		if c.Name == "" {
			continue
		}
		if c.Expires == 0 {
			c.Expires = c.ExpirationDate
		}
		cookies = append(cookies, c.Cookie)
	}
	return cookies, nil
}

// ParseNetscape reads a Netscape/curl cookies.txt file
func ParseNetscape(r io.Reader) ([]Cookie, error) {
	var cookies []Cookie
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		httpOnly := false
		if rest, ok := strings.CutPrefix(line, "#HttpOnly_"); ok {
			line, httpOnly = rest, true
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			fields = strings.Fields(line)
		}
		if len(fields) < 7 {
			continue
		}

		cookie := Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Name:     fields[5],
			Value:    fields[6],
			HTTPOnly: httpOnly,
		}
		if exp, err := strconv.ParseInt(fields[4], 10, 64); err == nil && exp > 0 {
			cookie.Expires = float64(exp)
		}
		cookies = append(cookies, cookie)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cookies, nil
}

// FromCookies builds a session that expires with its earliest expiring cookie
func FromCookies(name, url string, cookies []Cookie, now time.Time) *Session {
	s := &Session{Name: name, URL: url, Cookies: cookies, CreatedAt: now}
	for _, c := range cookies {
		if c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if s.ExpiresAt.IsZero() || exp.Before(s.ExpiresAt) {
			s.ExpiresAt = exp
		}
	}
	return s
}
