package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebook/scheduler/internal/platform/db"
)

func TestNormalize(t *testing.T) {
	got := normalize([]string{"staff:b", "", "patient:a", "staff:b"})
	want := []string{"patient:a", "staff:b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSubjectKeys(t *testing.T) {
	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	if StaffKey(id) != "staff:7c9e6679-7425-40de-944b-e07fc1f90ae7" {
		t.Errorf("unexpected staff key %s", StaffKey(id))
	}
	if PatientKey(id) == StaffKey(id) {
		t.Error("expected staff and patient keys to differ for the same id")
	}
}

func TestMemory_ExcludesSecondHolder(t *testing.T) {
	m := NewMemory()
	unlock, err := m.Lock(context.Background(), "staff:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "patient:9", "staff:1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}

	unlock()
	unlock2, err := m.Lock(context.Background(), "staff:1")
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	unlock2()

	if n := m.held(); n != 0 {
		t.Errorf("expected no lock entries after release, got %d", n)
	}
}

func TestMemory_DisjointKeysDoNotBlock(t *testing.T) {
	m := NewMemory()
	unlock, err := m.Lock(context.Background(), "staff:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := m.Lock(ctx, "staff:2", "patient:2")
	if err != nil {
		t.Fatalf("expected disjoint keys to lock, got %v", err)
	}
	unlock2()
}

func TestMemory_OverlappingSetsSerialize(t *testing.T) {
	m := NewMemory()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		keys := []string{"staff:1", "patient:1"}
		if i%2 == 0 {
			keys = []string{"patient:1", "staff:1"}
		}
		go func(keys []string) {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), keys...)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}(keys)
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most one holder at a time, saw %d", maxSeen)
	}
}

// fakeRedis implements SET NX and the compare-and-delete script in memory.
type fakeRedis struct {
	redis.Scripter
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[keys[0]] == args[0].(string) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedis_LockAndRelease(t *testing.T) {
	fake := newFakeRedis()
	r := newRedis(fake, time.Second, zerolog.Nop())
	r.retry = time.Millisecond

	unlock, err := r.Lock(context.Background(), "staff:1", "patient:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.data) != 2 {
		t.Fatalf("expected 2 redis keys, got %d", len(fake.data))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(ctx, "staff:1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}

	unlock()
	if len(fake.data) != 0 {
		t.Errorf("expected keys released, got %v", fake.data)
	}
}

func TestRedis_ReleaseKeepsForeignToken(t *testing.T) {
	fake := newFakeRedis()
	r := newRedis(fake, time.Second, zerolog.Nop())

	unlock, err := r.Lock(context.Background(), "staff:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Simulate expiry followed by another holder taking the key.
	fake.data["scheduler:lock:staff:1"] = "someone-else"

	unlock()
	if fake.data["scheduler:lock:staff:1"] != "someone-else" {
		t.Error("expected foreign lock to survive release")
	}
}

func TestRedis_PartialAcquireReleasesHeld(t *testing.T) {
	fake := newFakeRedis()
	fake.data["scheduler:lock:staff:1"] = "other"
	r := newRedis(fake, time.Second, zerolog.Nop())
	r.retry = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(ctx, "patient:1", "staff:1"); err == nil {
		t.Fatal("expected failure when one key is held elsewhere")
	}
	if _, ok := fake.data["scheduler:lock:patient:1"]; ok {
		t.Error("expected patient key to be released after partial acquire")
	}
}

func TestWithWait_GivesUp(t *testing.T) {
	m := NewMemory()
	l := WithWait(m, 20*time.Millisecond)
	key := StaffKey(uuid.New())

	unlock, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unlock()

	start := time.Now()
	_, err = l.Lock(context.Background(), key)
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("expected to give up near the wait bound, waited %s", waited)
	}
}

func TestWithWait_ZeroIsPassthrough(t *testing.T) {
	m := NewMemory()
	if WithWait(m, 0) != Locker(m) {
		t.Error("expected zero wait to return the locker unchanged")
	}
}

// fakeTx records statements. Only Exec is implemented.
type fakeTx struct {
	pgx.Tx
	mu    sync.Mutex
	keys  []string
	block bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.block {
		<-ctx.Done()
		return pgconn.CommandTag{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, args[0].(string))
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func TestPostgres_LocksOnTransaction(t *testing.T) {
	tx := &fakeTx{}
	ctx := db.ContextWithTx(context.Background(), tx)

	unlock, err := NewPostgres().Lock(ctx, "staff:2", "patient:1", "staff:2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unlock()

	if len(tx.keys) != 2 || tx.keys[0] != "patient:1" || tx.keys[1] != "staff:2" {
		t.Errorf("expected sorted distinct keys locked on the transaction, got %v", tx.keys)
	}
}

func TestPostgres_RequiresTransaction(t *testing.T) {
	if _, err := NewPostgres().Lock(context.Background(), "staff:1"); !errors.Is(err, ErrNoTx) {
		t.Errorf("expected ErrNoTx, got %v", err)
	}
}

func TestPostgres_WaitBoundIsNotAcquired(t *testing.T) {
	ctx := db.ContextWithTx(context.Background(), &fakeTx{block: true})
	_, err := WithWait(NewPostgres(), 20*time.Millisecond).Lock(ctx, "staff:1")
	if !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}
}

// probeTx checks, at commit time, whether key is still held.
type probeTx struct {
	m         *Memory
	key       string
	committed bool
	heldAtEnd bool
}

func (p *probeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	unlock, err := p.m.Lock(tctx, p.key)
	if err == nil {
		unlock()
	}
	p.heldAtEnd = errors.Is(err, ErrNotAcquired)
	p.committed = true
	return nil
}

func TestInTx_HoldsUntilCommit(t *testing.T) {
	m := NewMemory()
	tx := &probeTx{m: m, key: "staff:1"}

	ran := false
	err := InTx(context.Background(), tx, m, []string{"staff:1"}, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran || !tx.committed {
		t.Fatal("expected fn to run and the transaction to commit")
	}
	if !tx.heldAtEnd {
		t.Error("expected the key to stay locked until the transaction ended")
	}
	if n := m.held(); n != 0 {
		t.Errorf("expected key released after InTx, got %d entries", n)
	}
}

func TestInTx_LockFailureSkipsFn(t *testing.T) {
	m := NewMemory()
	unlock, _ := m.Lock(context.Background(), "staff:1")
	defer unlock()

	ran := false
	err := InTx(context.Background(), db.NoTx{}, WithWait(m, 10*time.Millisecond), []string{"staff:1"}, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}
	if ran {
		t.Error("expected fn not to run without the lock")
	}
}

func TestInTx_ReleasesOnError(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	err := InTx(context.Background(), db.NoTx{}, m, []string{"staff:1"}, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected fn error, got %v", err)
	}
	if n := m.held(); n != 0 {
		t.Errorf("expected key released after failure, got %d entries", n)
	}
}
