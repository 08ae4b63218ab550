package testsupport

import (
	"embed"
	"encoding/json"
	"path"
	"testing"

	"github.com/goliatone/go-query-sync/realtime"
)

//go:embed testdata/*.json
var fixtures embed.FS

// Fixture returns the raw bytes of a fixture shipped with this package,
// e.g. Fixture(t, "notifications.json").
func Fixture(t testing.TB, name string) []byte {
	t.Helper()

	data, err := fixtures.ReadFile(path.Join("testdata", name))
	if err != nil {
		t.Fatalf("fixture %s: %v", name, err)
	}
	return data
}

// FixtureJSON unmarshals the named fixture into dest.
func FixtureJSON(t testing.TB, name string, dest any) {
	t.Helper()

	if err := json.Unmarshal(Fixture(t, name), dest); err != nil {
		t.Fatalf("fixture %s: invalid JSON: %v", name, err)
	}
}

// ChangeEvents loads a JSON array of notifications in the payload format
// the database trigger emits. Every event must carry a known operation.
func ChangeEvents(t testing.TB, name string) []realtime.ChangeEvent {
	t.Helper()

	var events []realtime.ChangeEvent
	FixtureJSON(t, name, &events)
	for i, ev := range events {
		if _, err := realtime.ParseOperation(string(ev.Operation)); err != nil {
			t.Fatalf("fixture %s: event %d: %v", name, i, err)
		}
	}
	return events
}

// Replay emits events on feed in order and returns how many deliveries
// were made across all subscribers.
func Replay(feed *FakeFeed, events []realtime.ChangeEvent) int {
	delivered := 0
	for _, ev := range events {
		delivered += feed.Emit(ev)
	}
	return delivered
}
