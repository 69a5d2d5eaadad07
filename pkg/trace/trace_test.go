package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := WithContext(context.Background(), "abc")
	assert.Equal(t, "abc", FromContext(ctx))
	assert.Equal(t, "", FromContext(context.Background()))
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	assert.Len(t, id, 32)
	assert.Equal(t, id, FromContext(ctx))

	ctx2, id2 := Ensure(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, ctx2)
}
