// Package asyncx provides the concurrency primitives the service layers
// lean on: settled fan-out, a bounded worker pool, and per-call timeouts,
// all with first-class context support.
//
// # Fan-out
//
// [AllSettled] runs a set of functions concurrently and always returns one
// [Result] per function, in input order. Nothing short-circuits: use it when
// every outcome matters, such as delivering to multiple providers.
//
//	settled := asyncx.AllSettled(ctx,
//	    func(ctx context.Context) (Receipt, error) { return email.Send(ctx, msg) },
//	    func(ctx context.Context) (Receipt, error) { return sms.Send(ctx, msg) },
//	)
//
// # Worker pool
//
// [Pool] processes a slice with a fixed number of workers and returns
// results in the original order, stopping new work once the context is done.
//
//	results, err := asyncx.Pool(ctx, 10, items, func(ctx context.Context, item Item) (Out, error) {
//	    return process(ctx, item)
//	})
//
// # Timeouts
//
// [WithTimeout] bounds a single call with its own deadline:
//
//	result, err := asyncx.WithTimeout(ctx, 2*time.Second, func(ctx context.Context) (*Data, error) {
//	    return slowOperation(ctx)
//	})
package asyncx
