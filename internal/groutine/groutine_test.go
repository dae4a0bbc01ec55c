package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo(t *testing.T) {
	var name string
	var id uint64

	done := Go(context.Background(), "worker-1", func(ctx context.Context) {
		name = Name(ctx)
		id = ID()
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done MUST close when fn returns")
	}
	assert.Equal(t, "worker-1", name)
	assert.NotZero(t, id)
	assert.NotEqual(t, ID(), id, "goroutine ids MUST differ between goroutines")
}

func TestNameWithoutLabel(t *testing.T) {
	assert.Equal(t, "", Name(context.Background()))
	assert.Equal(t, "", Name(nil)) //nolint:staticcheck // nil context is handled explicitly
}
