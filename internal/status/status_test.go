package status

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsIdle(t *testing.T) {
	t.Parallel()

	r := New()
	cur := r.Current()
	assert.Equal(t, KindIdle, cur.Kind)
	assert.Equal(t, TextIdle, cur.Text)
	assert.Zero(t, cur.Seq)
}

func TestSetOverwrites(t *testing.T) {
	t.Parallel()

	r := New()
	r.Set(KindBusy, "Discovering readers")
	u := r.Set(KindReady, TextReady)

	cur := r.Current()
	assert.Equal(t, u, cur)
	assert.Equal(t, KindReady, cur.Kind)
	assert.Equal(t, uint64(2), cur.Seq)
}

func TestSubscribeLatestWins(t *testing.T) {
	t.Parallel()

	r := New()
	ch, cancel := r.Subscribe()
	defer cancel()

	first := <-ch
	assert.Equal(t, KindIdle, first.Kind)

	r.Set(KindBusy, "one")
	r.Set(KindBusy, "two")
	r.Set(KindError, "three")

	got := <-ch
	assert.Equal(t, "three", got.Text)

	select {
	case u := <-ch:
		t.Fatalf("expected no stale update, got %+v", u)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	r := New()
	ch, cancel := r.Subscribe()
	cancel()
	cancel()

	for range ch {
	}
	r.Set(KindReady, TextReady)
	_, ok := <-ch
	require.False(t, ok)
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()

	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = r.Current()
			}
		}()
	}
	for j := 0; j < 200; j++ {
		r.Set(KindBusy, "tick")
	}
	wg.Wait()

	assert.Equal(t, uint64(200), r.Current().Seq)
}
