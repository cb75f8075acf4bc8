package session

// ValidationError means the identifier itself is malformed or suspicious.
// Callers must reject the request outright; it is never retryable.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid session id: " + e.Reason
}

// OwnershipError means a well-formed identifier is not owned by the claimed
// principal, or the ownership lookup itself failed. Both cases deny access.
type OwnershipError struct {
	Reason string
}

func (e *OwnershipError) Error() string {
	return "session ownership denied: " + e.Reason
}
