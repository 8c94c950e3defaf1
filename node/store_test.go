package node

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_MissingKey(t *testing.T) {
	s := NewStore()

	_, found := s.Get("nope")
	require.False(t, found)
}

func TestStore_PutGet(t *testing.T) {
	s := NewStore()

	s.Put("k", []byte("v1"))
	value, found := s.Get("k")
	require.True(t, found)
	require.Equal(t, []byte("v1"), value)

	// Updates happen in place.
	s.Put("k", []byte("v2"))
	value, _ = s.Get("k")
	require.Equal(t, []byte("v2"), value)
	require.Equal(t, 1, s.Len())
}

func TestStore_PutCopiesValue(t *testing.T) {
	s := NewStore()

	buf := []byte("original")
	s.Put("k", buf)
	buf[0] = 'X'

	value, _ := s.Get("k")
	require.Equal(t, []byte("original"), value)
}

func TestStore_ConcurrentDisjointKeys(t *testing.T) {
	s := NewStore()

	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d_k%d", w, i)
				s.Put(key, []byte(key))
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, workers*perWorker, s.Len())
	for w := 0; w < workers; w++ {
		key := fmt.Sprintf("w%d_k%d", w, perWorker-1)
		value, found := s.Get(key)
		require.True(t, found)
		require.Equal(t, []byte(key), value)
	}
}

func TestStore_ConcurrentSameKeyNoTorn(t *testing.T) {
	s := NewStore()

	valA := []byte("aaaaaaaa")
	valB := []byte("bbbbbbbb")

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.Put("k", valA)
			s.Put("k", valB)
		}
		close(stop)
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			value, found := s.Get("k")
			if !found {
				continue
			}
			if string(value) != "aaaaaaaa" && string(value) != "bbbbbbbb" {
				t.Errorf("torn read: %q", value)
				return
			}
		}
	}()
	wg.Wait()
}
