package udp

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treemana/koala/model"
)

func TestResponsesFIFO(t *testing.T) {
	r := newResponses()
	_, ok := r.Pop()
	require.False(t, ok)

	var txs []*model.Transaction
	for i := 0; i < 3; i++ {
		tx := model.New(nil, clientAddr(i), upstreamAddr, time.Second, nil)
		txs = append(txs, tx)
		r.Push(tx)
	}
	assert.Equal(t, 3, r.Len())

	for _, want := range txs {
		got, ok := r.Pop()
		require.True(t, ok)
		assert.Same(t, want, got)
	}
	assert.Zero(t, r.Len())
	_, ok = r.Pop()
	assert.False(t, ok)
}

func TestResponsesReleaseGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()

	r := newResponses()
	tx := model.New(nil, clientAddr(1), upstreamAddr, time.Second, nil)
	for i := 0; i < 5000; i++ {
		r.Push(tx)
		if i%3 == 0 {
			r.Push(tx)
		}
		for r.Len() > 0 {
			_, ok := r.Pop()
			require.True(t, ok)
		}
	}

	// signals posted after the last Pop are taken by an empty Pop
	require.Eventually(t, func() bool {
		r.Pop()
		return runtime.NumGoroutine() <= before+20
	}, 5*time.Second, 10*time.Millisecond, "goroutines: before=%d after=%d", before, runtime.NumGoroutine())
	assert.Zero(t, r.Len())
}

func TestResponsesDiscard(t *testing.T) {
	r := newResponses()
	for i := 0; i < 4; i++ {
		r.Push(model.New(nil, clientAddr(i), upstreamAddr, time.Second, nil))
	}
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, 4, r.Discard())
	assert.Zero(t, r.Len())
}
