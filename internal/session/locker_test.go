package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocalLockerSerializesSameSession(t *testing.T) {
	l := NewLocalLocker()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "s1")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxActive)
	}
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want slots cleaned up", l.Len())
	}
}

func TestLocalLockerIndependentSessions(t *testing.T) {
	l := NewLocalLocker()
	r1, err := l.Acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Acquire(s1) error = %v", err)
	}
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := l.Acquire(ctx, "s2")
	if err != nil {
		t.Fatalf("Acquire(s2) error = %v", err)
	}
	r2()
}

func TestLocalLockerHonorsContext(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "s1"); !errors.Is(err, ErrLockTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want ErrLockTimeout and deadline", err)
	}

	release()
	release()
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
}

func TestNopLockerNeverBlocks(t *testing.T) {
	var l NopLocker
	r1, _ := l.Acquire(context.Background(), "s1")
	r2, err := l.Acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	r1()
	r2()
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	l, err := NewRedisLocker(ctx, RedisConfig{Addr: addr, TTL: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewRedisLocker() error = %v", err)
	}
	defer l.Close()

	sid := "lock-test-" + time.Now().Format("150405.000000")
	release, err := l.Acquire(ctx, sid)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(short, sid); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Acquire() error = %v, want ErrLockTimeout", err)
	}

	release()
	again, err := l.Acquire(ctx, sid)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	again()
}
