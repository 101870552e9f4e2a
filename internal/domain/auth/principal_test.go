package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: 9, Role: RoleAdmin})
	p, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(9), p.UserID)
	assert.True(t, p.IsAdmin())
	assert.False(t, Principal{Role: RoleCustomer}.IsAdmin())
}
