package core

import "strings"

// DestinationMatcher decides whether a destination matches a pattern.
type DestinationMatcher interface {
	Match(pattern, destination string) bool
}

// SegmentMatcher splits patterns and destinations on '.' and '/', so it works
// for AMQP queue names, NATS subjects and SQS queue URLs alike.
// '*' matches exactly one segment and '#' matches zero or more.
//
//	"rpc.*.reply"  matches "rpc.orders.reply"
//	"rpc.#"        matches "rpc" and "rpc.a.b"
//	"http:/#/test-queue" matches "http://127.0.0.1:4566/000000000000/test-queue"
type SegmentMatcher struct{}

func (SegmentMatcher) Match(pattern, destination string) bool {
	return matchSegments(splitSegments(pattern), splitSegments(destination))
}

func splitSegments(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '/' })
}

func matchSegments(pat, dest []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "#":
			for i := 0; i <= len(dest); i++ {
				if matchSegments(pat[1:], dest[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(dest) == 0 {
				return false
			}
		default:
			if len(dest) == 0 || pat[0] != dest[0] {
				return false
			}
		}
		pat, dest = pat[1:], dest[1:]
	}
	return len(dest) == 0
}
