package route

import (
	"net/http"
	"strings"
)

// A matcher tries a request against one route pattern, returning the
// captured path arguments (args[0] is the whole path) on a hit.
type matcher func(*http.Request) ([]string, bool)

// newMatch compiles a pattern of the form "GET /v1/runs/:uuid" into a
// matcher.  ":name" segments capture a single path segment; a
// trailing "*" captures the rest of the path.
func newMatch(pattern string) matcher {
	parts := strings.SplitN(pattern, " ", 2)
	method, path := parts[0], parts[1]
	segments := strings.Split(strings.Trim(path, "/"), "/")

	return func(req *http.Request) ([]string, bool) {
		if req.Method != method {
			return nil, false
		}

		got := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
		args := []string{req.URL.Path}

		for i, want := range segments {
			if want == "*" {
				args = append(args, strings.Join(got[i:], "/"))
				return args, true
			}
			if i >= len(got) {
				return nil, false
			}
			if strings.HasPrefix(want, ":") {
				if got[i] == "" {
					return nil, false
				}
				args = append(args, got[i])
				continue
			}
			if want != got[i] {
				return nil, false
			}
		}

		if len(got) != len(segments) {
			return nil, false
		}
		return args, true
	}
}
