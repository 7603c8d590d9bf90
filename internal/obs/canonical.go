package obs

import "strings"

// CanonicalPath collapses identifier segments so metric label cardinality
// stays bounded. Unknown paths are returned as-is (minus any query string).
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if strings.HasPrefix(p, "/v1/orders/") {
		rest := strings.TrimPrefix(p, "/v1/orders/")
		parts := strings.Split(rest, "/")
		switch len(parts) {
		case 1:
			if parts[0] != "" {
				return "/v1/orders/:id"
			}
		case 2:
			switch parts[1] {
			case "attach-ffl", "verify-ffl", "override-hold", "void", "retry-capture", "fulfill":
				return "/v1/orders/:id/" + parts[1]
			}
		}
	}
	return p
}
