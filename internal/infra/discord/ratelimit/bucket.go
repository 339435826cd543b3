package ratelimit

import (
	"net/url"
	"strings"
)

// Logical bucket names used when Discord has not yet told us the real bucket.
const (
	BucketUserGuilds   = "user-guilds"
	BucketUserMe       = "user-me"
	BucketOAuthToken   = "oauth-token"
	BucketGuildMembers = "guild-members"
	BucketGuildInfo    = "guild-info"
)

// NormalizeRoute strips scheme, host, API version prefix and query from a
// route so "https://discord.com/api/v10/users/@me?x=1" becomes "/users/@me".
func NormalizeRoute(route string) string {
	if u, err := url.Parse(route); err == nil && u.Path != "" {
		route = u.Path
	} else if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}

	if i := strings.Index(route, "/api/"); i >= 0 {
		route = route[i+len("/api"):]
		// drop the version segment ("/v10")
		if rest := strings.TrimPrefix(route, "/"); strings.HasPrefix(rest, "v") {
			if j := strings.Index(rest, "/"); j >= 0 && isNumeric(rest[1:j]) {
				route = rest[j:]
			}
		}
	}

	route = strings.TrimSuffix(route, "/")
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return route
}

// LogicalBucket classifies a route into one of the known logical buckets, or
// returns the path with numeric segments replaced by ":id".
//
// The fallback is heuristic: two distinct Discord buckets can map to the same
// normalized path.
func LogicalBucket(route string) string {
	path := NormalizeRoute(route)
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")

	switch {
	case path == "/users/@me/guilds":
		return BucketUserGuilds
	case path == "/users/@me":
		return BucketUserMe
	case path == "/oauth2/token":
		return BucketOAuthToken
	case len(segments) >= 3 && segments[0] == "guilds" && segments[2] == "members":
		return BucketGuildMembers
	case len(segments) == 2 && segments[0] == "guilds":
		return BucketGuildInfo
	}

	for i, seg := range segments {
		if isNumeric(seg) {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
