package handler

import "github.com/miladsoleymani/replymux/core"

// Empty acknowledges a request with an empty JSON object.
func Empty(core.Context) (any, error) {
	return map[string]any{}, nil
}
