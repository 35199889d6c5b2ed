package rest

import (
	"strings"
)

// RouteKeyFunc maps a request onto its rate limit bucket. Requests with the same key share
// a queue and are executed one at a time, in order.
type RouteKeyFunc func(request Request) string

// majorResources are the path segments whose id is part of the bucket.
var majorResources = map[string]bool{
	"channels": true,
	"guilds":   true,
	"webhooks": true,
}

// ParentResourceRoute buckets every request under the same major resource together, e.g.
// all of /channels/1/messages, /channels/1/pins/2 and /channels/1 share "/channels/1".
// Paths outside a major resource keep their shape with ids replaced.
func ParentResourceRoute(request Request) string {
	segments := splitPath(request.Path)
	if len(segments) >= 2 && majorResources[segments[0]] {
		return "/" + segments[0] + "/" + segments[1]
	}

	return "/" + strings.Join(normalizeIds(segments, false), "/")
}

// TemplateRoute buckets by method and path template: major resource ids are kept, every
// other id is replaced, so /channels/1/messages/2 and /channels/1/messages/3 share a bucket
// but /channels/2/messages/2 does not.
func TemplateRoute(request Request) string {
	segments := normalizeIds(splitPath(request.Path), true)
	return request.Method + " /" + strings.Join(segments, "/")
}

func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	var segments []string
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}

	return segments
}

func normalizeIds(segments []string, keepMajor bool) []string {
	normalized := make([]string, len(segments))
	for i, segment := range segments {
		switch {
		case keepMajor && i > 0 && majorResources[segments[i-1]]:
			normalized[i] = segment
		case i > 0 && segments[i-1] == "reactions":
			normalized[i] = ":emoji"
		case isId(segment):
			normalized[i] = ":id"
		default:
			normalized[i] = segment
		}
	}

	return normalized
}

func isId(segment string) bool {
	for _, r := range segment {
		if r < '0' || r > '9' {
			return false
		}
	}

	return segment != ""
}
