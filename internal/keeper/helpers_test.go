package keeper

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func contextBackground() context.Context { return context.Background() }

func startKeeperServerForTest(t *testing.T) string {
	t.Helper()
	srv := NewServer(zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}
