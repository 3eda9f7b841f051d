package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomSelector_Pick(t *testing.T) {
	t.Parallel()

	selector := NewDefaultSelector(42)
	ctx := context.Background()

	assert.Equal(t, "custom", selector.Pick(ctx, Context{ForceStrategy: "custom"}))

	seen := map[string]bool{}
	for range 200 {
		picked := selector.Pick(ctx, Context{})
		assert.Contains(t, []string{Default, Fast, Thorough}, picked)
		seen[picked] = true
	}

	assert.Len(t, seen, 3)
}

func TestRandomSelector_Deterministic(t *testing.T) {
	t.Parallel()

	a := NewDefaultSelector(7)
	b := NewDefaultSelector(7)

	for range 20 {
		assert.Equal(t, a.Pick(context.Background(), Context{}), b.Pick(context.Background(), Context{}))
	}
}

func TestRandomSelector_EmptyFallsBackToDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Default, NewRandomSelector(1).Pick(context.Background(), Context{}))
}

func TestFixed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Default, Fixed(Default).Pick(context.Background(), Context{}))
	assert.Equal(t, Fast, Fixed(Default).Pick(context.Background(), Context{ForceStrategy: Fast}))
}
