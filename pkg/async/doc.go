// Package async runs background side effects (payment notifications and
// similar hooks) without tying them to the lifetime of the HTTP request that
// triggered them.
//
//	runner := async.NewRunner(logger)
//	runner.Go(r.Context(), 10*time.Second, "payment failed notification", func(ctx context.Context) error {
//		return notifier.PaymentFailed(ctx, n)
//	})
//
//	// on shutdown
//	_ = runner.Wait(shutdownCtx)
package async
