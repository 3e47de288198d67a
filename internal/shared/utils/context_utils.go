package utils

import (
	"context"
	"errors"

	"arc-database/internal/shared/contextkeys"
)

// Common context errors
var (
	ErrRequestIDNotFound       = errors.New("requestID not found in context")
	ErrRequestIDNotString      = errors.New("requestID in context is not a string")
	ErrConnectionIDNotFound    = errors.New("connectionID not found in context")
	ErrConnectionIDNotString   = errors.New("connectionID in context is not a string")
	ErrCommandNotFound         = errors.New("command not found in context")
	ErrCommandNotString        = errors.New("command in context is not a string")
	ErrSubscriptionIDNotFound  = errors.New("subscriptionID not found in context")
	ErrSubscriptionIDNotString = errors.New("subscriptionID in context is not a string")
)

func stringValue(ctx context.Context, key interface{}, missing, wrongType error) (string, error) {
	val := ctx.Value(key)
	if val == nil {
		return "", missing
	}
	s, ok := val.(string)
	if !ok {
		return "", wrongType
	}
	return s, nil
}

// GetRequestIDFromContext retrieves the request ID from the context.
func GetRequestIDFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.RequestIDKey, ErrRequestIDNotFound, ErrRequestIDNotString)
}

// GetConnectionIDFromContext retrieves the relay connection ID from the context.
func GetConnectionIDFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.ConnectionIDKey, ErrConnectionIDNotFound, ErrConnectionIDNotString)
}

// GetCommandFromContext retrieves the executing command name from the context.
func GetCommandFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.CommandKey, ErrCommandNotFound, ErrCommandNotString)
}

// GetSubscriptionIDFromContext retrieves the subscription ID from the context.
func GetSubscriptionIDFromContext(ctx context.Context) (string, error) {
	return stringValue(ctx, contextkeys.SubscriptionIDKey, ErrSubscriptionIDNotFound, ErrSubscriptionIDNotString)
}

// Context builder functions

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
}

// WithConnectionID adds the relay connection ID to context
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, contextkeys.ConnectionIDKey, connectionID)
}

// WithCommand adds the command name to context
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, contextkeys.CommandKey, command)
}

// WithSubscriptionID adds the subscription ID to context
func WithSubscriptionID(ctx context.Context, subscriptionID string) context.Context {
	return context.WithValue(ctx, contextkeys.SubscriptionIDKey, subscriptionID)
}

// WithComponent adds component name to context
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, contextkeys.ComponentKey, component)
}

// GetRequestIDOrDefault retrieves the request ID from context or returns def.
func GetRequestIDOrDefault(ctx context.Context, def string) string {
	if v, err := GetRequestIDFromContext(ctx); err == nil {
		return v
	}
	return def
}

// GetConnectionIDOrDefault retrieves the connection ID from context or returns def.
func GetConnectionIDOrDefault(ctx context.Context, def string) string {
	if v, err := GetConnectionIDFromContext(ctx); err == nil {
		return v
	}
	return def
}

func HasRequestID(ctx context.Context) bool {
	_, err := GetRequestIDFromContext(ctx)
	return err == nil
}

func HasConnectionID(ctx context.Context) bool {
	_, err := GetConnectionIDFromContext(ctx)
	return err == nil
}
