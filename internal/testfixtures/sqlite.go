package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/robin/internal/persistence"
	"github.com/example/robin/internal/persistence/sqlite"
	"github.com/example/robin/internal/persistence/sqlite/migration"
)

// SQLiteHarness provides repository access backed by a temporary SQLite storage
// instance for integration-style persistence tests.
type SQLiteHarness struct {
	Storage *sqlite.Storage
	Rooms   persistence.RoomRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. A non-positive pageSize selects the repository
// default. The harness registers its own cleanup with tb.
func NewSQLiteHarness(tb testing.TB, pageSize int) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "robin.db")
	storage, err := sqlite.Open(migration.TempFileTestSQLiteConfig(path), pageSize)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := storage.Migrate(context.Background(), logger); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage: storage,
		Rooms:   storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// Seed stores every fixture, failing the test on the first error.
func (h *SQLiteHarness) Seed(tb testing.TB, fixtures ...RoomFixture) {
	tb.Helper()
	for _, fixture := range fixtures {
		if err := fixture.Seed(context.Background(), h.Rooms); err != nil {
			tb.Fatalf("failed to seed room: %v", err)
		}
	}
}
