// Package arbiter decides per request whether to answer from cache, network or a fallback.
package arbiter

import (
	"net/http"
	"path"
	"strings"

	"example.com/treniren/internal/swcache"
)

// Class is the request category that selects a strategy.
type Class int

const (
	// ClassBypass covers non-GET requests; they go straight to the network.
	ClassBypass Class = iota
	ClassAPI
	ClassStatic
	ClassNavigation
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassBypass:
		return "bypass"
	case ClassAPI:
		return "api"
	case ClassStatic:
		return "static"
	case ClassNavigation:
		return "navigation"
	default:
		return "other"
	}
}

var staticExtensions = map[string]struct{}{
	".js": {}, ".css": {}, ".png": {}, ".jpg": {}, ".jpeg": {},
	".gif": {}, ".svg": {}, ".ico": {}, ".woff": {}, ".woff2": {},
}

// Classify picks the class for req. Rules are checked in order: API root, static asset,
// navigation, anything else.
func Classify(req *http.Request, m swcache.Manifest) Class {
	if req.Method != http.MethodGet {
		return ClassBypass
	}

	p := req.URL.Path
	switch {
	case m.IsAPI(p):
		return ClassAPI
	case m.IsPrecached(p) || isStaticAsset(p):
		return ClassStatic
	case isNavigation(req):
		return ClassNavigation
	default:
		return ClassOther
	}
}

func isStaticAsset(p string) bool {
	_, ok := staticExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
