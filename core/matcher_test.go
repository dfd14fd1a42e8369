package core

import "testing"

func TestSegmentMatcher(t *testing.T) {
	m := SegmentMatcher{}

	tests := []struct {
		pattern     string
		destination string
		want        bool
	}{
		{"queue_example", "queue_example", true},
		{"queue_example", "other", false},

		{"queue_example.reply.*", "queue_example.reply.0b6f", true},
		{"queue_example.reply.*", "queue_example.reply", false},
		{"queue_example.reply.*", "queue_example.reply.a.b", false},
		{"*.reply.*", "jobs.reply.1", true},

		{"rpc.#", "rpc", true},
		{"rpc.#", "rpc.a.b.c", true},
		{"#", "amq.gen-Xa1", true},
		{"rpc.#.done", "rpc.a.b.done", true},
		{"rpc.#.done", "rpc.done", true},
		{"rpc.#.done", "rpc.a.b", false},

		{"http:/#/test-queue", "http://127.0.0.1:4566/000000000000/test-queue", true},
		{"http:/#/test-queue", "http://127.0.0.1:4566/000000000000/other-queue", false},

		{"a.b", "a", false},
		{"a", "a.b", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"→"+tt.destination, func(t *testing.T) {
			if got := m.Match(tt.pattern, tt.destination); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.destination, got, tt.want)
			}
		})
	}
}
