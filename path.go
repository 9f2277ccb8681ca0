package treewire

import (
	"strings"
)

// normalizePath adds the leading slash and strips trailing slashes.
// "" and "/" both normalize to the root "/".
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for 1 < len(path) && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func joinKeys(keys []string) string {
	return "/" + strings.Join(keys, "/")
}

func joinChild(path string, key string) string {
	if path == "/" {
		return "/" + key
	}
	return path + "/" + key
}

// isAncestor reports whether a is a strict ancestor of b.
func isAncestor(a string, b string) bool {
	if a == "/" {
		return b != "/"
	}
	return strings.HasPrefix(b, a+"/")
}
