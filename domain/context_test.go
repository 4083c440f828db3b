package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()

	_, ok := PrincipalFromContext(ctx)
	assert.False(t, ok)

	_, ok = PrincipalFromContext(WithPrincipal(ctx, nil))
	assert.False(t, ok)

	alice := &Principal{Subject: "alice"}
	got, ok := PrincipalFromContext(WithPrincipal(ctx, alice))
	require.True(t, ok)
	assert.Same(t, alice, got)
}
