package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestLoadSave(t *testing.T) {
	t.Parallel()

	store := New()
	if _, ok := store.Load("missing"); ok {
		t.Error("Load found a value in an empty store")
	}

	store.Save("k", 42)
	val, ok := store.Load("k")
	if !ok || val != 42 {
		t.Errorf("Load = %v, %v, want 42, true", val, ok)
	}

	store.Save("k", 43)
	if val, _ := store.Load("k"); val != 43 {
		t.Errorf("overwrite kept stale value %v", val)
	}
}

func TestKeyStable(t *testing.T) {
	t.Parallel()

	if Key("weather", "paris") != Key("weather", "paris") {
		t.Error("same parts produced different keys")
	}
	if Key("weather", "paris") == Key("weather", "tokyo") {
		t.Error("different parts produced the same key")
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := Key("k", fmt.Sprintf("%d", n%4))
			store.Save(key, n)
			store.Load(key)
		}(i)
	}
	wg.Wait()
}
