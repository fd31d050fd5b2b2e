// Package retry decides whether a failed page fetch is attempted again.
//
// Policy.Decide is a pure function of the attempt number and the error kind:
// timeouts and navigation failures are retried until MaxAttempts is reached,
// everything else gives up immediately. Retry delays come from a
// BackoffStrategy; the default ExponentialBackoff grows with jitter but never
// leaves the [MinWait, MaxWait] window of the politeness delay.
//
//	policy := retry.NewPolicy(cfg.Crawl)
//	for attempt := 1; ; attempt++ {
//		page, err := fetch()
//		if err == nil {
//			break
//		}
//		d := policy.Decide(attempt, errs.KindOf(err))
//		if !d.ShouldRetry() {
//			return err
//		}
//		if err := retry.Wait(ctx, d.Delay); err != nil {
//			return err
//		}
//	}
package retry
