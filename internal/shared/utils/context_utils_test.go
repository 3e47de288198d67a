package utils

import (
	"context"
	"testing"

	"arc-database/internal/shared/contextkeys"

	"github.com/stretchr/testify/assert"
)

func TestGetSetContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req1")
	ctx = WithConnectionID(ctx, "conn1")
	ctx = WithCommand(ctx, "database.readDocument")
	ctx = WithSubscriptionID(ctx, "sub1")
	ctx = WithComponent(ctx, "relay")

	reqID, err := GetRequestIDFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "req1", reqID)

	connID, err := GetConnectionIDFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "conn1", connID)

	command, err := GetCommandFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "database.readDocument", command)

	subID, err := GetSubscriptionIDFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "sub1", subID)

	assert.Equal(t, "relay", ctx.Value(contextkeys.ComponentKey))
	assert.True(t, HasRequestID(ctx))
	assert.True(t, HasConnectionID(ctx))
	assert.Equal(t, "req1", GetRequestIDOrDefault(ctx, "default"))
	assert.Equal(t, "conn1", GetConnectionIDOrDefault(ctx, "default"))
}

func TestContextUtils_MissingValues(t *testing.T) {
	ctx := context.Background()

	_, err := GetRequestIDFromContext(ctx)
	assert.ErrorIs(t, err, ErrRequestIDNotFound)
	_, err = GetConnectionIDFromContext(ctx)
	assert.ErrorIs(t, err, ErrConnectionIDNotFound)
	_, err = GetCommandFromContext(ctx)
	assert.ErrorIs(t, err, ErrCommandNotFound)
	_, err = GetSubscriptionIDFromContext(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionIDNotFound)

	assert.False(t, HasRequestID(ctx))
	assert.False(t, HasConnectionID(ctx))
	assert.Equal(t, "default", GetRequestIDOrDefault(ctx, "default"))
	assert.Equal(t, "default", GetConnectionIDOrDefault(ctx, "default"))
}

func TestContextUtils_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), contextkeys.RequestIDKey, 42)
	_, err := GetRequestIDFromContext(ctx)
	assert.ErrorIs(t, err, ErrRequestIDNotString)

	ctx = context.WithValue(context.Background(), contextkeys.SubscriptionIDKey, []string{"x"})
	_, err = GetSubscriptionIDFromContext(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionIDNotString)
}
