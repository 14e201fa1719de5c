// Package errors defines the error taxonomy shared by the task manager, the
// delivery router and the chat gateway.
//
// Every error carries an ErrorCode and a category. Action handlers turn
// codes into user-facing replies. The delivery router uses the category
// and RetryAfter to decide between waiting and falling back:
//
//	err := errors.RateLimited("chat throttled", errors.WithRetryAfter(5*time.Second))
//	if errors.Is(err, errors.ErrCodeRateLimit) {
//		wait := errors.RetryAfter(err)
//		...
//	}
//
// Errors marshal to JSON so they survive the round trip through the bus
// and the JSON-RPC command surface.
package errors
