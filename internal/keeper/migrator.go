package keeper

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cse223b/tribstore/internal/bin"
	"github.com/cse223b/tribstore/internal/lock"
	"github.com/cse223b/tribstore/internal/storageclient"
)

// validationBitKey duplicates bin's unexported validationKey: both name the
// same reserved per-backend string key (spec.md §3), but the migrator talks
// to backends through raw storageclient.Client calls, not through a
// bin.Replicator, so it needs its own copy of the literal.
const validationBitKey = "__VALIDATION__"

// Migrator is the keeper migrator of spec.md §4.K: leadership goes to the
// smallest live keeper index, it detects backend join/leave events, and
// moves log records between the affected replica pairs so every bin's data
// remains on exactly two backends.
//
// Grounded on original_source/lab/src/lab3/keeper_helper.rs's
// migrate_to_joined_node/migrate_to_left_node (predecessor/successor ring
// scans, parallel leave-side migration) and keeper_migration_helper.rs's
// migrate_data (merge-insert by set containment over raw list values); the
// ring arithmetic itself follows spec.md §4.K's falls_into_interval exactly
// as stated in view.go, not the original's.
type Migrator struct {
	keepers []string
	self    int
	backs   []string
	dir     *bin.Directory
	lockC   *lock.Client
	cache   *storageclient.Cache
	peer    *PeerClient
	log     zerolog.Logger
	period  time.Duration

	mu        sync.Mutex
	activated bool
	liveness  []bool
}

func NewMigrator(keepers []string, self int, backs []string, dir *bin.Directory, lockC *lock.Client, cache *storageclient.Cache, period time.Duration, log zerolog.Logger) *Migrator {
	return &Migrator{
		keepers: keepers,
		self:    self,
		backs:   backs,
		dir:     dir,
		lockC:   lockC,
		cache:   cache,
		peer:    NewPeerClient(),
		log:     log,
		period:  period,
	}
}

func (m *Migrator) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// isLeader reports whether self is the smallest index among keepers that
// answer a ping right now — the opposite rule from the broadcaster.
func (m *Migrator) isLeader(ctx context.Context) bool {
	alive := AliveKeepers(ctx, m.peer, m.keepers, m.self)
	smallest := m.self
	for i := range alive {
		if i < smallest {
			smallest = i
		}
	}
	return smallest == m.self
}

func (m *Migrator) probeLiveness() []bool {
	v := make([]bool, len(m.backs))
	var wg sync.WaitGroup
	for i, addr := range m.backs {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			v[i] = m.cache.Get(addr).Ping() == nil
		}(i, addr)
	}
	wg.Wait()
	return v
}

// detectEvent compares a previous liveness vector against the current one
// and returns at most one join/leave event — the first difference found by
// index order (spec.md §4.K step 2: "Detect up to one event this tick").
func detectEvent(prev, cur []bool) *migrationEvent {
	if prev == nil {
		return nil
	}
	for i := range cur {
		if i >= len(prev) {
			continue
		}
		if cur[i] && !prev[i] {
			return &migrationEvent{BackID: i, Leave: false}
		}
		if !cur[i] && prev[i] {
			return &migrationEvent{BackID: i, Leave: true}
		}
	}
	return nil
}

func (m *Migrator) keeperBin() *bin.Replicator { return m.dir.Bin(keeperBin) }

func (m *Migrator) tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isLeader(ctx) {
		m.activated = false
		return
	}

	cur := m.probeLiveness()
	event := detectEvent(m.liveness, cur)

	if !m.activated {
		kb := m.keeperBin()
		persistedLogRaw, _, _ := kb.Get(migrationLogKey)
		if persistedLog, err := unmarshalMigrationLog(persistedLogRaw); err == nil && persistedLog != nil {
			event = persistedLog
		} else if event == nil {
			persistedViewRaw, _, _ := kb.Get(backStatusKey)
			if persistedView, err := unmarshalView(persistedViewRaw); err == nil && persistedView != nil {
				event = detectEvent(persistedView, cur)
			}
		}
	}

	switch {
	case event != nil:
		m.publish(event, cur)
		m.performMigration(event, cur)
		if m.activated {
			// Steady-state tick: m.liveness is already a full vector, so
			// advance it by exactly the event just applied (see applyEvent).
			m.liveness = applyEvent(m.liveness, event, cur)
		} else {
			// First activation: event may have come from the persisted
			// log/view rather than from diffing m.liveness (nil until this
			// keeper's first activation, stale after a lost leadership), so
			// there is no trusted prior state to advance incrementally from.
			m.liveness = cur
		}
		m.activated = true
	case !m.activated:
		m.bootstrapValidation(cur)
		m.publish(nil, cur)
		m.activated = true
		m.liveness = cur
	default:
		m.liveness = cur
	}
}

// applyEvent advances the working liveness view by exactly the one event
// that was just migrated, rather than jumping straight to cur. Two backends
// can flip within the same tick interval; detectEvent only ever reports the
// first one it finds, so snapping liveness to cur here would make the
// second flip invisible to every future diff against m.liveness (it would
// already match cur). Leaving the rest of prev untouched means the next
// tick's detectEvent(m.liveness, cur) still finds the second flip.
func applyEvent(prev []bool, event *migrationEvent, cur []bool) []bool {
	next := make([]bool, len(cur))
	copy(next, prev)
	if event.BackID < len(next) {
		next[event.BackID] = !event.Leave
	} else {
		next = cur
	}
	return next
}

// bootstrapValidation mirrors original_source/lab/src/lab3/lab.rs's
// serve_keeper startup check: on a cold start where every backend is already
// alive, no join event ever runs migrateJoin, so nothing has ever set a
// validation bit. If no live backend is currently valid, mark every live one
// valid directly — there's no replica pair to copy data from yet anyway.
func (m *Migrator) bootstrapValidation(liveness []bool) {
	anyValid := false
	for i, alive := range liveness {
		if !alive {
			continue
		}
		v, ok, err := m.cache.Get(m.backs[i]).Get(validationBitKey)
		if err == nil && ok && v != "" {
			anyValid = true
			break
		}
	}
	if anyValid {
		return
	}
	for i, alive := range liveness {
		if !alive {
			continue
		}
		if err := m.cache.Get(m.backs[i]).Set(validationBitKey, "true"); err != nil {
			m.log.Warn().Int("backend", i).Err(err).Msg("migrator: failed to bootstrap validation bit")
		}
	}
}

// publish writes the migration log then the view, in that order, so a
// crash between the two leaves a reconstructible intermediate state for the
// next promoted leader (spec.md §4.K step 4).
func (m *Migrator) publish(event *migrationEvent, liveness []bool) {
	kb := m.keeperBin()
	logStr, err := marshalMigrationLog(event)
	if err == nil {
		_, _ = kb.Set(migrationLogKey, logStr)
	}
	viewStr, err := marshalView(liveness)
	if err == nil {
		_, _ = kb.Set(backStatusKey, viewStr)
	}
}

func (m *Migrator) performMigration(event *migrationEvent, liveness []bool) {
	if event.Leave {
		m.migrateLeave(event.BackID, liveness)
	} else {
		m.migrateJoin(event.BackID, liveness)
	}
	// Clear the migration log now that this event has been fully applied;
	// idempotent re-runs with the log already cleared simply fall through
	// to diffing the persisted view, which by then matches cur.
	kb := m.keeperBin()
	if logStr, err := marshalMigrationLog(nil); err == nil {
		_, _ = kb.Set(migrationLogKey, logStr)
	}
}

func scanAlive(idx, n int, liveness []bool, forward bool, skip int) (int, bool) {
	count := 0
	for k := 1; k <= n; k++ {
		var i int
		if forward {
			i = (idx + k) % n
		} else {
			i = ((idx-k)%n + n) % n
		}
		if liveness[i] {
			count++
			if count == skip {
				return i, true
			}
		}
	}
	return 0, false
}

func (m *Migrator) migrateJoin(j int, liveness []bool) {
	n := len(m.backs)
	p1, ok := scanAlive(j, n, liveness, false, 1)
	if !ok {
		return // j is the only live backend; nothing to copy from
	}
	p2, ok := scanAlive(j, n, liveness, false, 2)
	if !ok {
		p2 = p1
	}
	m.migrateInterval(p1, j, p2, j)
	if err := m.cache.Get(m.backs[j]).Set(validationBitKey, "true"); err != nil {
		m.log.Warn().Int("backend", j).Err(err).Msg("migrator: failed to set validation bit")
	}
}

func (m *Migrator) migrateLeave(x int, liveness []bool) {
	n := len(m.backs)
	s1, ok := scanAlive(x, n, liveness, true, 1)
	if !ok {
		return // no live backends remain
	}
	s2, ok := scanAlive(x, n, liveness, true, 2)
	if !ok {
		s2 = s1
	}
	p1, ok := scanAlive(x, n, liveness, false, 1)
	if !ok {
		p1 = s1
	}
	p2, ok := scanAlive(x, n, liveness, false, 2)
	if !ok {
		p2 = p1
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.migrateInterval(p1, s1, p2, p1) }()
	go func() { defer wg.Done(); m.migrateInterval(s1, s2, p1, x) }()
	wg.Wait()
}

// migrateInterval copies every raw key of every bin whose hash falls into
// [start, end] (inclusive at both ends, per fallsIntoInterval) from
// backs[from] to backs[to]. String values are overwritten
// (idempotent); list logs are merge-inserted by exact record string,
// skipping anything the destination already holds (spec.md §4.K step 6).
func (m *Migrator) migrateInterval(from, to, start, end int) {
	fromAddr, toAddr := m.backs[from], m.backs[to]
	fromClient := m.cache.Get(fromAddr)
	toClient := m.cache.Get(toAddr)
	n := len(m.backs)

	strKeys, err := fromClient.Keys("", "")
	if err != nil {
		m.log.Warn().Str("from", fromAddr).Err(err).Msg("migrator: keys scan failed")
		strKeys = nil
	}
	listKeys, err := fromClient.ListKeys("", "")
	if err != nil {
		m.log.Warn().Str("from", fromAddr).Err(err).Msg("migrator: list_keys scan failed")
		listKeys = nil
	}

	for _, k := range strKeys {
		m.migrateStrKey(fromClient, toClient, k, start, end, n)
	}
	for _, k := range listKeys {
		m.migrateListKey(fromClient, toClient, k, start, end, n)
	}
}

// binNameOf extracts the bin name from a raw "<bin>::<TAG>::<key>" key.
// Keys with fewer than two "::" separators don't belong to any bin and are
// ignored by the migration scan (spec.md §6).
func binNameOf(rawKey string) (string, bool) {
	parts := strings.SplitN(rawKey, "::", 3)
	if len(parts) < 3 {
		return "", false
	}
	return parts[0], true
}

func (m *Migrator) migrateStrKey(from, to *storageclient.Client, rawKey string, start, end, n int) {
	binName, ok := binNameOf(rawKey)
	if !ok {
		return
	}
	if !fallsIntoInterval(hashMod(binName, n), start, end) {
		return
	}
	if err := m.withKeyLock(rawKey, func() error {
		v, ok, err := from.Get(rawKey)
		if err != nil || !ok {
			return err
		}
		_, err = to.Set(rawKey, v)
		return err
	}); err != nil {
		m.log.Warn().Str("key", rawKey).Err(err).Msg("migrator: string migration failed")
	}
}

func (m *Migrator) migrateListKey(from, to *storageclient.Client, rawKey string, start, end, n int) {
	binName, ok := binNameOf(rawKey)
	if !ok {
		return
	}
	if !fallsIntoInterval(hashMod(binName, n), start, end) {
		return
	}
	if err := m.withKeyLock(rawKey, func() error {
		fromRecs, err := from.ListGet(rawKey)
		if err != nil {
			return err
		}
		toRecs, err := to.ListGet(rawKey)
		if err != nil {
			return err
		}
		present := make(map[string]bool, len(toRecs))
		for _, r := range toRecs {
			present[r] = true
		}
		for _, r := range fromRecs {
			if present[r] {
				continue
			}
			if _, err := to.ListAppend(rawKey, r); err != nil {
				return err
			}
			present[r] = true
		}
		return nil
	}); err != nil {
		m.log.Warn().Str("key", rawKey).Err(err).Msg("migrator: list migration failed")
	}
}

// withKeyLock guards one raw key's copy with the keeper's own (priority)
// lock client, so a concurrent client write can't interleave with the
// migration copy of that same key (spec.md §4.K step 7).
func (m *Migrator) withKeyLock(key string, fn func() error) error {
	ctx := context.Background()
	if err := m.lockC.AcquireLocks(ctx, nil, []string{key}); err != nil {
		return err
	}
	defer func() { _ = m.lockC.ReleaseLocks(ctx, nil, []string{key}) }()
	return fn()
}
