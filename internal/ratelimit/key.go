package ratelimit

import (
	"strings"

	"golang.org/x/text/cases"
)

// ClientKey combines the network origin with a declared credential (email or
// username) so one account cannot be stuffed from many IPs and one IP cannot
// hide behind many accounts. Credentials are case-folded.
func ClientKey(ip, credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ip
	}
	return ip + ":" + cases.Fold().String(credential)
}

// RequestKey keys generic classes by origin and, when authenticated, user id.
func RequestKey(ip, userID string) string {
	if userID == "" {
		return ip
	}
	return ip + ":" + userID
}
