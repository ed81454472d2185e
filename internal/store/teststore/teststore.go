// Package teststore provides a throwaway Store per test, mirroring the
// teacher's test/database.NewTestClient but for a local, single-file
// engine: a Postgres testcontainer has no equivalent here, so each test
// gets its own in-memory SQLite connection instead (spec: "entirely
// local and offline").
package teststore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/transrapport/engine/internal/store"
)

// New opens an in-memory Store with the schema migrated, closing it
// automatically when t ends.
func New(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}
