// Package lock provides per-subject mutual exclusion held across a
// scheduling check and the write that depends on it.
package lock

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired is returned when a lock could not be obtained before the
// context expired.
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases every key obtained by a Lock call. Safe to call once.
type Unlock func()

// Locker acquires exclusive locks on a set of keys. Keys are always taken in
// sorted order so callers locking overlapping sets cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (Unlock, error)
}

// WithWait bounds how long Lock may block. A zero wait returns l unchanged.
func WithWait(l Locker, wait time.Duration) Locker {
	if wait <= 0 {
		return l
	}
	return &bounded{next: l, wait: wait}
}

type bounded struct {
	next Locker
	wait time.Duration
}

func (b *bounded) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	ctx, cancel := context.WithTimeout(ctx, b.wait)
	defer cancel()
	return b.next.Lock(ctx, keys...)
}

func StaffKey(id uuid.UUID) string {
	return "staff:" + id.String()
}

func PatientKey(id uuid.UUID) string {
	return "patient:" + id.String()
}

func BranchKey(id uuid.UUID) string {
	return "branch:" + id.String()
}

// normalize sorts keys and drops blanks and duplicates.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
