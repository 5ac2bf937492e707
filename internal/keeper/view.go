package keeper

import (
	"encoding/json"
	"hash/fnv"
)

// keeperBin is the reserved bin holding persisted migrator state (spec.md
// §6 "Persisted state").
const keeperBin = "__KEEPER__"

const (
	backStatusKey  = "BACK_STATUS_STORE_KEY"
	migrationLogKey = "MIGRATION_LOG_KEY"
)

// migrationEvent is the JSON shape of MIGRATION_LOG_KEY (spec.md §6): the
// index of the backend whose liveness flipped, and whether it was a leave
// (true) or a join (false). An idle keeper persists the empty string here,
// not a zero-valued migrationEvent.
type migrationEvent struct {
	BackID int  `json:"back_id"`
	Leave  bool `json:"leave"`
}

func marshalView(liveness []bool) (string, error) {
	data, err := json.Marshal(liveness)
	return string(data), err
}

func unmarshalView(s string) ([]bool, error) {
	if s == "" {
		return nil, nil
	}
	var v []bool
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func marshalMigrationLog(ev *migrationEvent) (string, error) {
	if ev == nil {
		return "", nil
	}
	data, err := json.Marshal(ev)
	return string(data), err
}

func unmarshalMigrationLog(s string) (*migrationEvent, error) {
	if s == "" {
		return nil, nil
	}
	var ev migrationEvent
	if err := json.Unmarshal([]byte(s), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// hashMod is spec.md §4.K's DefaultHash(name) mod |B|, shared with
// internal/bin's ring arithmetic but kept local here since the migrator
// operates on raw backend key strings, not through a bin.Replicator.
func hashMod(s string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32()) % n
}

// fallsIntoInterval implements spec.md §4.K's ring arithmetic verbatim:
// inclusive both ends; start==end matches exactly that index; start<end is
// a plain range; otherwise the interval wraps around the ring.
//
// This deliberately departs from
// original_source/lab/src/lab3/keeper_migration_helper.rs's
// falls_into_interval (exclusive start, "if start==end return false") —
// spec.md §4.K states its own ring arithmetic explicitly, so it is not a
// point of spec silence the original gets to resolve.
func fallsIntoInterval(delta, start, end int) bool {
	if start == end {
		return delta == end
	}
	if start < end {
		return start <= delta && delta <= end
	}
	return start <= delta || delta <= end
}
