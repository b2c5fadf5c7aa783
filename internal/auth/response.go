package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/majorcontext/xboxauth/internal/credential"
)

// jsonBuilder assembles a request body field by field. Values are escaped
// by sjson, so tokens and codes can never break out of their strings.
type jsonBuilder struct {
	buf []byte
	err error
}

func newJSONBuilder() *jsonBuilder {
	return &jsonBuilder{buf: []byte(`{}`)}
}

func (b *jsonBuilder) set(path string, value any) *jsonBuilder {
	if b.err == nil {
		b.buf, b.err = sjson.SetBytes(b.buf, path, value)
	}
	return b
}

func (b *jsonBuilder) setRaw(path string, raw []byte) *jsonBuilder {
	if b.err == nil {
		b.buf, b.err = sjson.SetRawBytes(b.buf, path, raw)
	}
	return b
}

func (b *jsonBuilder) bytes() ([]byte, error) {
	if b.err != nil {
		return nil, fmt.Errorf("building request body: %w", b.err)
	}
	return b.buf, nil
}

// parseBody validates body as JSON and returns its root.
func parseBody(body []byte) (gjson.Result, error) {
	if len(body) == 0 {
		return gjson.Result{}, fmt.Errorf("empty response body")
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("response is not valid JSON")
	}
	return gjson.ParseBytes(body), nil
}

// stringFields returns the values at paths, failing on the first that is
// absent or empty.
func stringFields(r gjson.Result, paths ...string) ([]string, error) {
	out := make([]string, len(paths))
	var missing []string
	for i, p := range paths {
		v := r.Get(p)
		if !v.Exists() || v.String() == "" {
			missing = append(missing, p)
			continue
		}
		out[i] = v.String()
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// intField returns the number at path.
func intField(r gjson.Result, path string) (int64, error) {
	v := r.Get(path)
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("missing %s", path)
	}
	return v.Int(), nil
}

// parseNotAfter parses an ISO-8601 UTC timestamp such as
// 2026-10-17T10:00:00.1234567Z.
func parseNotAfter(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid NotAfter %q: %w", s, err)
	}
	return t.UTC(), nil
}

// parseUserTokens reads an OAuth token response. expires_in is counted in
// unit: seconds for refresh grants, milliseconds for device-code grants.
func parseUserTokens(body []byte, unit time.Duration, now time.Time) (user, refresh credential.Token, err error) {
	r, err := parseBody(body)
	if err != nil {
		return user, refresh, err
	}
	vals, err := stringFields(r, "access_token", "refresh_token")
	if err != nil {
		return user, refresh, err
	}
	expiresIn, err := intField(r, "expires_in")
	if err != nil {
		return user, refresh, err
	}
	user = credential.Token{Value: vals[0], Expires: now.Add(time.Duration(expiresIn) * unit)}
	refresh = credential.Token{Value: vals[1]}
	return user, refresh, nil
}

// xboxError extracts the XErr code Xbox services attach to rejections.
func xboxError(header http.Header, body []byte) string {
	if x := header.Get("x-err"); x != "" {
		return x
	}
	if x := gjson.GetBytes(body, "XErr"); x.Exists() {
		return x.String()
	}
	return ""
}
