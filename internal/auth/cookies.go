package auth

import "strings"

// ExtractCookie turns Set-Cookie header values into a Cookie request header.
//
// Servers and proxies may fold several cookies into one comma separated
// header. A comma only separates cookies when the text after it starts a new
// name=value pair; commas inside values and Expires dates are kept. Attributes
// such as Path or Expires are dropped and a repeated name keeps its last value.
func ExtractCookie(values []string) string {
	var names []string
	pairs := make(map[string]string)

	for _, header := range values {
		for _, cookie := range SplitSetCookie(header) {
			pair := cookie
			if i := strings.IndexByte(pair, ';'); i >= 0 {
				pair = pair[:i]
			}
			pair = strings.TrimSpace(pair)
			eq := strings.IndexByte(pair, '=')
			if eq <= 0 {
				continue
			}
			name := strings.TrimSpace(pair[:eq])
			if _, seen := pairs[name]; !seen {
				names = append(names, name)
			}
			pairs[name] = strings.TrimSpace(pair[eq+1:])
		}
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, name+"="+pairs[name])
	}
	return strings.Join(out, "; ")
}

// SplitSetCookie splits one possibly folded Set-Cookie header into cookies
func SplitSetCookie(header string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(header); i++ {
		if header[i] != ',' || !startsCookiePair(header[i+1:]) {
			continue
		}
		if part := strings.TrimSpace(header[start:i]); part != "" {
			parts = append(parts, part)
		}
		start = i + 1
	}
	if part := strings.TrimSpace(header[start:]); part != "" {
		parts = append(parts, part)
	}
	return parts
}

// startsCookiePair reports whether s begins (after spaces) with token "="
func startsCookiePair(s string) bool {
	s = strings.TrimLeft(s, " \t")
	n := 0
	for n < len(s) && isTokenChar(s[n]) {
		n++
	}
	return n > 0 && n < len(s) && s[n] == '='
}

func isTokenChar(c byte) bool {
	if c <= ' ' || c >= 0x7f {
		return false
	}
	switch c {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']', '?', '=', '{', '}':
		return false
	}
	return true
}
