package oss

import (
	"context"
	"net/http"
	"strings"
)

// patternMux replicates the Go 1.22 ServeMux "METHOD /path/{name}" pattern
// syntax for toolchains that predate it, so the fake-server routes below can
// keep their original shape.
type patternMux struct {
	routes []patternRoute
}

type patternRoute struct {
	method   string
	segments []string
	handler  http.HandlerFunc
}

type pathParamsKey struct{}

func newPatternMux() *patternMux { return &patternMux{} }

func (m *patternMux) HandleFunc(pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	m.routes = append(m.routes, patternRoute{method: method, segments: segments, handler: h})
}

func (m *patternMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for _, rt := range m.routes {
		if rt.method != r.Method || len(rt.segments) != len(segments) {
			continue
		}
		params := map[string]string{}
		matched := true
		for i, ps := range rt.segments {
			if strings.HasPrefix(ps, "{") && strings.HasSuffix(ps, "}") {
				params[strings.Trim(ps, "{}")] = segments[i]
			} else if ps != segments[i] {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		rt.handler(w, r.WithContext(context.WithValue(r.Context(), pathParamsKey{}, params)))
		return
	}
	http.NotFound(w, r)
}

// pathValue stands in for (*http.Request).PathValue for routes registered on
// a patternMux.
func pathValue(r *http.Request, name string) string {
	params, _ := r.Context().Value(pathParamsKey{}).(map[string]string)
	return params[name]
}
