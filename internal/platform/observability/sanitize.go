package observability

import (
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	routeLimit   = 180
	actorIDLimit = 64
	remoteLimit  = 64
)

var knownMethods = map[string]struct{}{
	http.MethodGet: {}, http.MethodHead: {}, http.MethodPost: {}, http.MethodPut: {},
	http.MethodPatch: {}, http.MethodDelete: {}, http.MethodOptions: {},
}

// clean drops control characters, including line breaks, and cuts value to limit runes so a
// request field cannot forge extra log lines.
func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

// SanitizeRoute returns a loggable route with any query string removed.
func SanitizeRoute(route string) string {
	if i := strings.IndexByte(route, '?'); i >= 0 {
		route = route[:i]
	}
	route = clean(route, routeLimit)
	if route == "" {
		return "/"
	}
	return route
}

// SanitizeMethod maps unknown verbs to OTHER so metric labels stay bounded.
func SanitizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if _, ok := knownMethods[method]; ok {
		return method
	}
	return "OTHER"
}

// SanitizeUserID bounds a staff identifier before it is logged.
func SanitizeUserID(uid string) string {
	return clean(strings.TrimSpace(uid), actorIDLimit)
}
