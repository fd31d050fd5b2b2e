// Package ratelimit paces requests to the portal.
//
// Every request made by the crawler (list pages and detail pages alike) is
// preceded by a Pacer pause: a uniformly random politeness delay within
// [MinWait, MaxWait]. An optional hard cap in requests per minute, backed by
// golang.org/x/time/rate, bounds the request rate even when the delay window
// is configured very small.
//
//	pacer := ratelimit.NewPacer(cfg.Crawl, cfg.RateLimit)
//	if err := pacer.Pause(ctx); err != nil {
//	    return err // cancelled
//	}
package ratelimit
