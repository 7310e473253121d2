package offlinecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirstReturnsWinnerAndLoser(t *testing.T) {
	a := make(chan string, 1)
	b := make(chan string, 1)
	b <- "b"

	v, fromA, loser := first(a, b)
	assert.Equal(t, "b", v)
	assert.False(t, fromA)

	a <- "a"
	select {
	case v := <-loser:
		assert.Equal(t, "a", v)
	case <-time.After(time.Second):
		t.Fatal("loser channel did not deliver")
	}
}

func TestFirstIgnoresNilChannel(t *testing.T) {
	a := make(chan int, 1)
	a <- 1
	v, fromA, _ := first(a, nil)
	assert.Equal(t, 1, v)
	assert.True(t, fromA)
}

func TestPending(t *testing.T) {
	var p *Pending
	assert.NoError(t, p.Wait())
	<-p.Done()

	release := make(chan struct{})
	p = goPending(func() error {
		<-release
		return assert.AnError
	})
	select {
	case <-p.Done():
		t.Fatal("pending settled early")
	default:
	}
	close(release)
	assert.ErrorIs(t, p.Wait(), assert.AnError)
	assert.NoError(t, settled(nil).Wait())
}
