package diag

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLog_AddfKeepsOrder(t *testing.T) {
	l := New()
	l.Addf("first %d", 1)
	l.Addf("second")

	assert.Equal(t, []string{"first 1", "second"}, l.Entries())
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, "first 1\nsecond", l.String())
}

func TestLog_Empty(t *testing.T) {
	l := New()
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, "", l.String())
	assert.Empty(t, l.Entries())
}

func TestLog_Seal(t *testing.T) {
	l := New()
	l.Addf("kept")
	l.Seal()
	l.Addf("dropped")

	assert.Equal(t, []string{"kept"}, l.Entries())
}

func TestLog_EntriesIsCopy(t *testing.T) {
	l := New()
	l.Addf("a")
	entries := l.Entries()
	entries[0] = "mutated"

	assert.Equal(t, "a", l.Entries()[0])
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Addf("entry %s", fmt.Sprint(i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, l.Len())
}
