package health

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping() error { return p.err }

func TestRunAll(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("up", func(context.Context) Status { return StatusOK })
	c.Register("down", func(context.Context) Status { return StatusDown })

	results := c.RunAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusOK, results["up"])
	assert.Equal(t, StatusDown, results["down"])
}

func TestIsReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	assert.True(t, c.IsReady(context.Background()), "no checks means ready")

	c.Register("db", DatabaseCheck(fakePinger{}))
	assert.True(t, c.IsReady(context.Background()))

	c.Register("db", DatabaseCheck(fakePinger{err: errors.New("gone")}))
	assert.False(t, c.IsReady(context.Background()))
}

func TestBridgeCheck(t *testing.T) {
	connected := false
	check := BridgeCheck(func() bool { return connected })

	assert.Equal(t, StatusDown, check(context.Background()))
	connected = true
	assert.Equal(t, StatusOK, check(context.Background()))
}
