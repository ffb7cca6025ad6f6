package keylock

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dreamware/edgecache/pkg/coordkey"
)

func TestPerKeyRwLockExclusiveExcludes(t *testing.T) {
	l := New(coordkey.XXHash, 4)
	key := []byte("k1")

	var counter int64
	var wg sync.WaitGroup
	const n = 200
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			l.WithExclusive(key, func() {
				v := atomic.AddInt64(&counter, 1)
				if v != 1 {
					t.Errorf("overlapping exclusive holders: counter=%d", v)
				}
				atomic.AddInt64(&counter, -1)
			})
		}()
	}
	wg.Wait()
}

func TestPerKeyRwLockSingleStripeIsGlobal(t *testing.T) {
	l := New(coordkey.XXHash, 1)
	a := []byte("a")
	b := []byte("zzzzzz")
	done := make(chan struct{})
	l.AcquireExclusive(a)
	go func() {
		l.AcquireShared(b)
		l.ReleaseShared(b)
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("shared lock on different key acquired while global stripe held exclusively")
	default:
	}
	l.ReleaseExclusive(a)
	<-done
}

func TestPerKeyRwLockSharedConcurrent(t *testing.T) {
	l := New(coordkey.XXHash, 8)
	key := []byte("shared-key")
	var wg sync.WaitGroup
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			l.WithShared(key, func() {})
		}()
	}
	wg.Wait()
}
