package txn

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cse223b/tribstore/internal/backend"
	"github.com/cse223b/tribstore/internal/lock"
)

func startOneBackend(t *testing.T) string {
	t.Helper()
	srv := backend.NewServer(backend.New(), zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

func startLockShard(t *testing.T) string {
	t.Helper()
	srv := lock.NewServer(zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}
