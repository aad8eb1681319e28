// Package asyncx provides the concurrency primitives the runtime's outbound
// call sites share: futures, fire-and-forget goroutines, retries with
// exponential backoff, and deadline-bounded execution — all with first-class
// context support.
//
// # Futures
//
// A [Future] represents a value that will be computed asynchronously.
// Use [Run] to start work immediately in a goroutine and [Future.Await] to
// block until the result is ready. Await is safe to call from multiple
// goroutines and caches the result after the first resolution.
//
//	fut := asyncx.Run(func() (llm.Response, error) {
//	    return provider.Chat(ctx, messages)
//	})
//
//	// ... do other work ...
//
//	resp, err := fut.Await()
//
// # Retries
//
// [Retry] and [RetryWithBackoff] re-run a function until it succeeds or the
// attempt budget is spent. [RetryPolicy] with [ExecutePolicy] adds a
// retryable-error predicate so call sites stop sprinkling their own
// backoff loops: one policy object, reused everywhere a provider or
// tool-server is dialed.
//
// # Timeouts
//
// [WithTimeout] bounds a call with a wall-clock deadline and returns
// context.DeadlineExceeded when it is missed.
package asyncx
