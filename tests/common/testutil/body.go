//go:build unit || e2e

package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// BodyEdit changes one top-level JSON field of a request body.
type BodyEdit func(m map[string]any)

// Without drops key, as a client that omits the field would.
func Without(key string) BodyEdit {
	return func(m map[string]any) { delete(m, key) }
}

// With sets key to value, including values the request DTO could not hold.
func With(key string, value any) BodyEdit {
	return func(m map[string]any) { m[key] = value }
}

// RequestBody renders dto as the JSON object a client would send, then applies edits.
func RequestBody(t *testing.T, dto any, edits ...BodyEdit) map[string]any {
	t.Helper()

	raw, err := json.Marshal(dto)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m), "request dto must encode to a JSON object")
	for _, edit := range edits {
		edit(m)
	}
	return m
}
