// util.go: Key helpers shared by identity resolvers and limiters
package ratelimit

// UserKey is the limiter key for an authenticated identity.
func UserKey(id string) string {
	return "user:" + id
}

// IPKey is the limiter key for an anonymous caller.
func IPKey(ip string) string {
	if ip == "" {
		return "anonymous"
	}
	return "ip:" + ip
}
