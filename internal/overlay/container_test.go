package overlay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainer_AddRemove(t *testing.T) {
	c := NewContainer()
	a := &Overlay{Type: TypeText, Start: time.Second, Stop: 2 * time.Second}
	b := &Overlay{Type: TypeImage, Start: 3 * time.Second, Stop: 4 * time.Second}

	c.Add(a)
	c.Add(b)
	assert.Equal(t, 2, c.Size())
	assert.True(t, c.ContainsType(TypeImage))
	assert.False(t, c.ContainsType(TypeTeletext))

	c.Remove(a)
	require.Equal(t, 1, c.Size())
	assert.Same(t, b, c.Overlays()[0])

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestContainer_OpenEndedOverlayIsClosedByNext(t *testing.T) {
	c := NewContainer()
	first := &Overlay{Type: TypeText, Start: time.Second}
	c.Add(first)
	c.Add(&Overlay{Type: TypeText, Start: 5 * time.Second})

	assert.Equal(t, 5*time.Second, first.Stop)
}

func TestContainer_CleanUpAndActive(t *testing.T) {
	c := NewContainer()
	c.Add(&Overlay{Type: TypeText, Start: 0, Stop: time.Second})
	c.Add(&Overlay{Type: TypeText, Start: 2 * time.Second, Stop: 4 * time.Second})
	c.Add(&Overlay{Type: TypeImage, Start: 3 * time.Second})

	active := c.Active(3500 * time.Millisecond)
	assert.Len(t, active, 2)

	removed := c.CleanUp(3 * time.Second)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, c.Size())
}

func TestContainer_Concurrent(t *testing.T) {
	c := NewContainer()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Add(&Overlay{Type: TypeImage, Start: time.Duration(i*100+j) * time.Millisecond, Stop: time.Hour})
				c.CleanUp(0)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 200, c.Size())
}
