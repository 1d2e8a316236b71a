package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithRequestID(WithRunID(ctx, "run-1"), "req-1")
	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))

	// a plain string key does not collide
	ctx = context.WithValue(ctx, "run_id", "other")
	assert.Equal(t, "run-1", GetRunID(ctx))
}
