package testsupport

import (
	"testing"

	"recap/internal/config"
	"recap/internal/meetings"
	"recap/internal/runs"
)

// MustOpenRunStore opens the runs database for a test config and registers cleanup.
func MustOpenRunStore(t testing.TB, cfg *config.Config) *runs.Store {
	t.Helper()
	store, err := runs.Open(cfg)
	if err != nil {
		t.Fatalf("open runs store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenMeetingStore opens the meetings database for a test config and registers cleanup.
func MustOpenMeetingStore(t testing.TB, cfg *config.Config) *meetings.Store {
	t.Helper()
	store, err := meetings.Open(cfg)
	if err != nil {
		t.Fatalf("open meetings store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
