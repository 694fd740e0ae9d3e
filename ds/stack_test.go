package ds

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type item struct {
	Link[item]
	v int
}

func items(n int) []*item {
	out := make([]*item, n)
	for i := range out {
		out[i] = &item{v: i}
	}
	return out
}

func values(c Chain[item, *item]) []int {
	var out []int
	for n := c.Pop(); n != nil; n = c.Pop() {
		out = append(out, n.v)
	}
	return out
}

func TestStackPushPop(t *testing.T) {
	var s Stack[item, *item]
	require.True(t, s.Empty())
	require.Nil(t, s.Pop())

	for _, it := range items(3) {
		s.Push(it)
	}
	require.False(t, s.Empty())

	assert.Equal(t, 2, s.Pop().v)
	assert.Equal(t, 1, s.Pop().v)
	assert.Equal(t, 0, s.Pop().v)
	assert.Nil(t, s.Pop())
	assert.True(t, s.Empty())
}

func TestStackExtract(t *testing.T) {
	var s Stack[item, *item]
	for _, it := range items(4) {
		s.Push(it)
	}

	c := s.Extract()
	require.True(t, s.Empty())
	require.Equal(t, 4, c.Len())
	assert.Equal(t, []int{3, 2, 1, 0}, values(c))

	empty := s.Extract()
	assert.True(t, empty.Empty())
}

func TestStackPushChainReverses(t *testing.T) {
	var src, dst Stack[item, *item]
	for _, it := range items(3) {
		src.Push(it)
	}

	c := src.Extract()
	dst.PushChain(&c)
	require.True(t, c.Empty())

	assert.Equal(t, []int{0, 1, 2}, values(dst.Extract()))
}

func TestStackPoppedNodeIsUnlinked(t *testing.T) {
	var s Stack[item, *item]
	a, b := &item{v: 1}, &item{v: 2}
	s.Push(a)
	s.Push(b)

	got := s.Pop()
	require.Same(t, b, got)
	assert.Nil(t, got.next.Load())
}

func TestStackConcurrentProducers(t *testing.T) {
	const (
		producers   = 8
		perProducer = 5000
		total       = producers * perProducer
	)

	var (
		s      Stack[item, *item]
		pushed [total]atomic.Bool
		seen   = make([]int, total)
	)

	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				id := p*perProducer + i
				pushed[id].Store(true)
				s.Push(&item{v: id})
			}
			return nil
		})
	}

	// single consumer alternating Pop and Extract
	var wg sync.WaitGroup
	wg.Add(1)
	received := 0
	go func() {
		defer wg.Done()
		for round := 0; received < total; round++ {
			if round%2 == 0 {
				if n := s.Pop(); n != nil {
					assert.True(t, pushed[n.v].Load(), "element %d popped before it was pushed", n.v)
					seen[n.v]++
					received++
				}
				continue
			}
			c := s.Extract()
			for n := c.Pop(); n != nil; n = c.Pop() {
				assert.True(t, pushed[n.v].Load(), "element %d extracted before it was pushed", n.v)
				seen[n.v]++
				received++
			}
		}
	}()

	require.NoError(t, g.Wait())
	wg.Wait()

	for id, count := range seen {
		require.Equal(t, 1, count, "element %d", id)
	}
	assert.True(t, s.Empty())
}
