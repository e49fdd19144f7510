package workflow

import (
	"errors"
	"sync"
	"testing"
)

type fakeLock struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
	releases int
	failWith error
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: map[string]bool{}}
}

func (l *fakeLock) TryAcquire(key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.failWith != nil {
		return false, l.failWith
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLock) Release(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	delete(l.held, key)
	return nil
}

func TestWithJobLockRunsTask(t *testing.T) {
	lock := newFakeLock()
	ran := false

	result := WithJobLock(lock, "job-a", func() error {
		ran = true
		return nil
	})
	if result.Skipped {
		t.Fatalf("result = %+v, want not skipped", result)
	}
	if result.Err != nil {
		t.Fatalf("err = %v", result.Err)
	}
	if !ran {
		t.Fatal("task did not run")
	}
	if lock.releases != 1 {
		t.Fatalf("releases = %d, want 1", lock.releases)
	}
	if lock.held["job-a"] {
		t.Fatal("lock still held after run")
	}
}

func TestWithJobLockContentionSkips(t *testing.T) {
	lock := newFakeLock()
	lock.held["job-a"] = true

	ran := false
	result := WithJobLock(lock, "job-a", func() error {
		ran = true
		return nil
	})
	if !result.Skipped || result.Reason != "lock_not_acquired" {
		t.Fatalf("result = %+v, want skipped with lock_not_acquired", result)
	}
	if ran {
		t.Fatal("task ran while lock was held elsewhere")
	}
	if lock.releases != 0 {
		t.Fatal("released a lock it never acquired")
	}
}

func TestWithJobLockAcquireError(t *testing.T) {
	lock := newFakeLock()
	lock.failWith = errors.New("connection lost")

	result := WithJobLock(lock, "job-a", func() error {
		t.Fatal("task must not run on lock error")
		return nil
	})
	if !result.Skipped || result.Reason != "lock_error" {
		t.Fatalf("result = %+v, want skipped with lock_error", result)
	}
	if result.Err == nil {
		t.Fatal("lock error not surfaced")
	}
}

func TestWithJobLockReleasesOnTaskError(t *testing.T) {
	lock := newFakeLock()
	taskErr := errors.New("sweep failed")

	result := WithJobLock(lock, "job-a", func() error { return taskErr })
	if result.Skipped {
		t.Fatalf("result = %+v, want not skipped", result)
	}
	if !errors.Is(result.Err, taskErr) {
		t.Fatalf("err = %v, want %v", result.Err, taskErr)
	}
	if lock.held["job-a"] {
		t.Fatal("lock leaked after task error")
	}
}

func TestWithJobLockMutualExclusion(t *testing.T) {
	lock := newFakeLock()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan JobRunResult, 1)

	go func() {
		done <- WithJobLock(lock, "job-a", func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	second := WithJobLock(lock, "job-a", func() error {
		t.Error("second holder entered the critical section")
		return nil
	})
	if !second.Skipped {
		t.Fatalf("second run = %+v, want skipped", second)
	}

	close(release)
	first := <-done
	if first.Skipped || first.Err != nil {
		t.Fatalf("first run = %+v", first)
	}

	// key is independent: a different job is not blocked
	other := WithJobLock(lock, "job-b", func() error { return nil })
	if other.Skipped {
		t.Fatalf("unrelated key skipped: %+v", other)
	}
}
