// Package pattern 判断 URL 是否命中用户提供的模式。
//
// 模式可以是完整 URL、裸域名或带 * 通配的模板，三者可以混用；
// 畸形模式只会不命中，永远不会让调用方出错。
package pattern

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/match"
)

var errEmptyPattern = errors.New("empty pattern")

// Lines 将模式列表（每项可能是多行文本）拆成去空白的非空行
func Lines(patterns []string) []string {
	var out []string
	for _, blob := range patterns {
		for _, line := range strings.Split(blob, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				out = append(out, line)
			}
		}
	}
	return out
}

// Matches 判断 rawURL 是否命中任一模式，空模式列表返回 false
func Matches(rawURL string, patterns []string) bool {
	lines := Lines(patterns)
	if len(lines) == 0 {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	for _, p := range lines {
		if matchOne(u, p) {
			return true
		}
	}
	return false
}

func matchOne(u *url.URL, raw string) bool {
	t, err := Compile(raw)
	if err == nil {
		return t.Match(u)
	}
	// 模板无法构造时退化为主机名子串匹配
	needle := strings.ToLower(strings.TrimPrefix(raw, "*."))
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(u.Hostname()), needle)
}

// Template 编译后的 URL 模板，各组件支持 * 通配
type Template struct {
	raw         string
	scheme      string // 空表示 http 与 https 均可
	host        string
	port        string // 空表示默认端口
	path        string
	hasPath     bool
	query       string
	hasQuery    bool
	fragment    string
	hasFragment bool
}

// Compile 解析模式字符串
func Compile(raw string) (*Template, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errEmptyPattern
	}
	for _, r := range s {
		if r <= ' ' || r == 0x7f {
			return nil, fmt.Errorf("pattern %q: contains whitespace or control characters", raw)
		}
	}

	t := &Template{raw: s}
	rest := s
	if i := strings.Index(s, "://"); i >= 0 {
		t.scheme = strings.ToLower(s[:i])
		if !validScheme(t.scheme) {
			return nil, fmt.Errorf("pattern %q: invalid scheme", raw)
		}
		rest = s[i+3:]
	}

	authority := rest
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority, rest = rest[:i], rest[i:]
	} else {
		rest = ""
	}
	if strings.Contains(authority, "@") {
		return nil, fmt.Errorf("pattern %q: userinfo is not supported", raw)
	}
	host, port, err := splitAuthority(authority)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", raw, err)
	}
	t.host, t.port = strings.ToLower(host), port

	if i := strings.IndexByte(rest, '#'); i >= 0 {
		t.fragment, t.hasFragment = rest[i+1:], true
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		t.query, t.hasQuery = rest[i+1:], true
		rest = rest[:i]
	}
	if rest != "" {
		t.path, t.hasPath = rest, true
	}
	return t, nil
}

// String 返回原始模式
func (t *Template) String() string { return t.raw }

// Match 判断已解析的 URL 是否命中模板
func (t *Template) Match(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	if t.scheme == "" {
		if scheme != "http" && scheme != "https" {
			return false
		}
	} else if !match.Match(scheme, t.scheme) {
		return false
	}

	if !match.Match(strings.ToLower(u.Hostname()), t.host) {
		return false
	}

	port := u.Port()
	if port == defaultPort(scheme) {
		port = ""
	}
	switch t.port {
	case "":
		if port != "" {
			return false
		}
	case "*":
	default:
		if !match.Match(port, t.port) {
			return false
		}
	}

	if t.hasPath {
		p := u.EscapedPath()
		if p == "" {
			p = "/"
		}
		if !match.Match(p, t.path) {
			return false
		}
	}
	if t.hasQuery && !match.Match(u.RawQuery, t.query) {
		return false
	}
	if t.hasFragment && !match.Match(u.EscapedFragment(), t.fragment) {
		return false
	}
	return true
}

func splitAuthority(authority string) (host, port string, err error) {
	if authority == "" {
		return "", "", errors.New("missing host")
	}
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", errors.New("unterminated ipv6 literal")
		}
		host, rest := authority[1:end], authority[end+1:]
		if rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return "", "", errors.New("unexpected characters after ipv6 literal")
			}
			port = rest[1:]
		}
		if !validPort(port) {
			return "", "", fmt.Errorf("invalid port %q", port)
		}
		return host, port, nil
	}

	host = authority
	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		host, port = authority[:i], authority[i+1:]
		if port == "" {
			return "", "", errors.New("empty port")
		}
	}
	if host == "" {
		return "", "", errors.New("missing host")
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_', r == '*':
		default:
			return "", "", fmt.Errorf("invalid host character %q", r)
		}
	}
	if !validPort(port) {
		return "", "", fmt.Errorf("invalid port %q", port)
	}
	return host, port, nil
}

func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '*':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

func validPort(p string) bool {
	for _, r := range p {
		if (r < '0' || r > '9') && r != '*' {
			return false
		}
	}
	return true
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}
