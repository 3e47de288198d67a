package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "arc-database context key " + string(c)
}

const (
	// RequestIDKey carries the caller-supplied request id of a relay frame.
	RequestIDKey = contextKey("requestID")
	// ConnectionIDKey carries the id assigned to a websocket connection.
	ConnectionIDKey = contextKey("connectionID")
	// CommandKey carries the command name being executed, e.g. "database.readDocument".
	CommandKey = contextKey("command")
	// SubscriptionIDKey carries the subscription id of a change feed.
	SubscriptionIDKey = contextKey("subscriptionID")
	// ComponentKey carries the name of the component emitting logs.
	ComponentKey = contextKey("component")
)
