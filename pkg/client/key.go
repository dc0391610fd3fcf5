package client

import "strconv"

const (
	keySeparator = "\x00"

	// Markers after the route tell a session key from an anonymous one
	noSessionMarker = keySeparator + "n"
	sessionMarker   = keySeparator + "s"
)

// BuildKey returns the cache key for a route fetched with an optional session
// token. An empty session means no session.
//
// The route is length prefixed and followed by a marker, so distinct
// (route, session) pairs never share a key, whatever bytes they contain.
func BuildKey(route, session string) string {
	key := strconv.Itoa(len(route)) + ":" + route
	if session == "" {
		return key + noSessionMarker
	}
	return key + sessionMarker + session
}
