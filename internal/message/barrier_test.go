package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier_NoHoldersIsSatisfied(t *testing.T) {
	b := NewBarrier(time.Second)
	assert.Equal(t, 0, b.Pending())
	assert.NoError(t, b.Wait(context.Background()))
}

func TestBarrier_ResolvesWhenAllReleased(t *testing.T) {
	b := NewBarrier(5 * time.Second)
	b.Acquire(2)
	require.Equal(t, 2, b.Pending())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
			b.Release()
			errs[i] = b.Wait(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 0, b.Pending())
}

func TestBarrier_Timeout(t *testing.T) {
	b := NewBarrier(50 * time.Millisecond)
	b.Acquire(2)
	b.Release()

	start := time.Now()
	err := b.Wait(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBarrier_ContextCancel(t *testing.T) {
	b := NewBarrier(10 * time.Second)
	b.Acquire(1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	assert.ErrorIs(t, b.Wait(ctx), ErrAborted)
}

func TestBarrier_ExtraReleaseIgnored(t *testing.T) {
	b := NewBarrier(time.Second)
	b.Acquire(1)
	b.Release()
	b.Release()
	assert.Equal(t, 0, b.Pending())
	assert.NoError(t, b.Wait(context.Background()))
}

func TestIsControl(t *testing.T) {
	tests := []struct {
		msg     Message
		control bool
	}{
		{&Packet{}, false},
		{Flush{}, true},
		{Reset{}, true},
		{Synchronize{Barrier: NewBarrier(time.Second)}, true},
		{Resync{}, true},
		{Seek{}, true},
		{Started{Source: StreamAudio}, true},
		{EndOfStream{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.msg.Kind().String(), func(t *testing.T) {
			assert.Equal(t, tt.control, IsControl(tt.msg))
		})
	}
}

func TestPacket_Timestamp(t *testing.T) {
	p := &Packet{PTS: 2 * time.Second, DTS: NoPTS}
	assert.Equal(t, 2*time.Second, p.Timestamp())

	p.DTS = time.Second
	assert.Equal(t, time.Second, p.Timestamp())
}
