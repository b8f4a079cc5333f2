// Package acquire implements the paced acquisition pipeline.
//
// A Pipeline walks a fixed page plan against a rate-limited source, one page
// in flight at a time, and appends every response to an append-only Log as
// soon as it arrives. Consecutive page requests are started at least
// Config.MinInterval apart. The pause before the next request is
// MinInterval minus the time the previous request took, clamped to zero, so a
// slow response shortens the following pause instead of adding to it.
//
// After the last page, exactly one supplemental request fetches the
// configured extra keys. The first failure ends the run (no retries);
// cancellation aborts the in-flight call and any pacing wait.
//
// Example usage:
//
//	p, err := acquire.New(cfg, source, source, logger)
//	if err != nil {
//		return err
//	}
//	go p.Run(ctx)
//	...
//	fmt.Println(p.State(), p.Arrived())
//
// Setting Config.MaxConcurrency above one switches to the batch variant:
// up to MaxConcurrency pages are fetched concurrently and the pacing rule is
// applied between batch starts.
package acquire
