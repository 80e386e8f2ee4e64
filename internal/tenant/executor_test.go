package tenant

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var kvKeyPattern = regexp.MustCompile(`\A[-/_=\.a-zA-Z0-9]+\z`)

func TestExecutorSerializesSameKey(t *testing.T) {
	t.Parallel()

	executor := NewExecutor()
	var (
		inFlight int32
		maxSeen  int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = executor.Do(context.Background(), "org-1/site-1", func(context.Context) error {
				current := atomic.AddInt32(&inFlight, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if current <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, current) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one in-flight op per key, saw %d", maxSeen)
	}
	if executor.Len() != 0 {
		t.Fatalf("expected key slots to be released, got %d", executor.Len())
	}
}

func TestExecutorRunsDifferentKeysInParallel(t *testing.T) {
	t.Parallel()

	executor := NewExecutor()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- executor.Do(context.Background(), "a", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := executor.Do(ctx, "b", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("key b must not wait for key a: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("key a: %v", err)
	}
}

func TestExecutorPreservesArrivalOrder(t *testing.T) {
	t.Parallel()

	executor := NewExecutor()
	hold := make(chan struct{})
	first := make(chan struct{})
	var (
		mu    sync.Mutex
		order []int
	)

	go func() {
		_ = executor.Do(context.Background(), "k", func(context.Context) error {
			close(first)
			<-hold
			return nil
		})
	}()
	<-first

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = executor.Do(context.Background(), "k", func(context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		waitForRefs(t, executor, "k", i+1)
	}
	close(hold)
	wg.Wait()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected FIFO order, got %v", order)
	}
}

func TestExecutorCancelledWaiterSkipsOperation(t *testing.T) {
	t.Parallel()

	executor := NewExecutor()
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = executor.Do(context.Background(), "k", func(context.Context) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := executor.Do(ctx, "k", func(context.Context) error {
		ran = true
		return nil
	})
	close(hold)
	if !errors.Is(err, context.Canceled) || ran {
		t.Fatalf("expected cancelled waiter to skip, err=%v ran=%v", err, ran)
	}
}

func TestStateKeysKeepCleanIDsVerbatim(t *testing.T) {
	t.Parallel()

	if got := AlertStateKey("org-1", "site_2"); got != "alerts.org-1.site_2" {
		t.Fatalf("unexpected alert key %q", got)
	}
	if got := NotificationStateKey("Org7"); got != "notifications.Org7" {
		t.Fatalf("unexpected notification key %q", got)
	}
}

func TestStateKeysDistinguishIDsSharingSanitizedForm(t *testing.T) {
	t.Parallel()

	orgs := []string{"acme_eu", "acme.eu", "acme eu", "acme/eu", "acme_eu=", ""}
	seen := make(map[string]string, len(orgs))
	for _, org := range orgs {
		key := NotificationStateKey(org)
		if previous, ok := seen[key]; ok {
			t.Fatalf("org ids %q and %q share key %q", previous, org, key)
		}
		seen[key] = org
		if !kvKeyPattern.MatchString(key) {
			t.Fatalf("key %q is outside the NATS KV alphabet", key)
		}
	}
	if !strings.HasPrefix(NotificationStateKey("acme.eu"), "notifications.acme_eu=") {
		t.Fatalf("expected readable prefix, got %q", NotificationStateKey("acme.eu"))
	}

	if AlertStateKey("acme.eu", "s1") == AlertStateKey("acme_eu", "s1") {
		t.Fatalf("alert keys collide across orgs")
	}
	if AlertStateKey("o", "a.b") == AlertStateKey("o", "a_b") {
		t.Fatalf("alert keys collide across sites")
	}
	if AlertStateKey("acme.eu", "s1") != AlertStateKey("acme.eu", "s1") {
		t.Fatalf("alert key must be stable")
	}
}

func waitForRefs(t *testing.T, executor *Executor, key string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		executor.mu.Lock()
		entry := executor.slots[key]
		refs := 0
		if entry != nil {
			refs = entry.refs
		}
		executor.mu.Unlock()
		if refs >= want {
			// refs are counted before Acquire queues; give the waiter time to enqueue.
			time.Sleep(10 * time.Millisecond)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d refs on %q", want, key)
}
