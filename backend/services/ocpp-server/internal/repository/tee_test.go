package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	saved int
	err   error
}

func (c *countingSink) Save(context.Context, string, string, string, []byte) error {
	c.saved++
	return c.err
}

func TestTeeWritesEverySink(t *testing.T) {
	failing := &countingSink{err: errors.New("disk full")}
	ok := &countingSink{}

	err := Tee{failing, ok}.Save(context.Background(), "CP001", "incoming", "Heartbeat", []byte(`[]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, failing.saved)
	assert.Equal(t, 1, ok.saved)

	assert.NoError(t, Tee{ok}.Save(context.Background(), "CP001", "incoming", "Heartbeat", nil))
}
