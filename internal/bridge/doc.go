// Package bridge funnels calls from any number of goroutines onto one
// dedicated worker goroutine, locked to a single OS thread.
//
// Native libraries that are not thread safe (the magick library, Tesseract)
// must never see two calls at once and often expect every call on the same
// thread. A Bridge gives them exactly that while callers keep an ordinary
// blocking API:
//
//	b := bridge.New("magick")
//	w, err := bridge.Call(ctx, b, func(ctx context.Context) (magick.Wand, error) {
//		return lib.NewWand(), nil
//	})
//
// # Lifecycle
//
// A Bridge starts idle. The worker is started by the first call, runs until
// Shutdown and is never restarted. Calls made after Shutdown fail with
// ErrShutdown.
//
// # Delivery
//
// Requests are served in submission order. Every request carries its own
// single-slot completion channel, so a result can only ever reach the caller
// that submitted it.
//
// # Failures
//
// An error returned by the payload is returned to the caller unchanged. A
// panic in the payload is recovered on the worker and returned as a
// *PanicError; the worker keeps serving. When the caller's context expires
// before the result is ready the caller gets ErrTimeout (or the context
// error for a plain cancellation) and the late result is discarded.
//
// # Re-entrancy
//
// The context handed to a payload is marked as belonging to the worker. A
// payload that calls back into the same Bridge with that context runs the
// nested call inline instead of deadlocking on its own queue.
package bridge
