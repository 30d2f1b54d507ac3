package utils

import (
	"sync"
	"testing"
)

func TestKeyMutexSerializesSameKey(t *testing.T) {
	km := NewKeyMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("did:op:abc")
			counter++
			km.Unlock("did:op:abc")
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
}

func TestKeyMutexIndependentKeys(t *testing.T) {
	km := NewKeyMutex()

	km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()
	<-done
	km.Unlock("a")
}

func TestKeyMutexGarbageCollectsEntries(t *testing.T) {
	km := NewKeyMutex()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%5))
			km.Lock(key)
			km.Unlock(key)
		}(i)
	}
	wg.Wait()

	if km.Len() != 0 {
		t.Fatalf("expected empty arena after all unlocks, got %d entries", km.Len())
	}
}
