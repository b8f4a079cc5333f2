package acquire

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// pageResult is the outcome of one page fetched by a batch worker.
type pageResult struct {
	slot  int
	items []Item
	err   error
}

// fetchBatch fetches a batch of pages concurrently with one worker per page
// and appends the results in page order once the whole batch has arrived.
// The first failure cancels the rest of the batch. It reports whether any
// page of the batch was shorter than requested.
func (p *Pipeline) fetchBatch(ctx context.Context, batch []PageDescriptor) (bool, error) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pageQueue := make(chan int, len(batch))
	results := make(chan pageResult, len(batch))
	for slot := range batch {
		pageQueue <- slot
	}
	close(pageQueue)

	var wg sync.WaitGroup
	for i := 0; i < len(batch); i++ {
		wg.Add(1)
		go p.batchWorker(batchCtx, batch, pageQueue, results, cancel, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	pages := make([][]Item, len(batch))
	var firstErr error
	var failedPage int
	for result := range results {
		if result.err != nil {
			// Workers cancelled by the first failure report context errors;
			// keep the one that caused it.
			if firstErr == nil {
				firstErr = result.err
				failedPage = batch[result.slot].Index
			}
			continue
		}
		pages[result.slot] = result.items
	}

	if firstErr != nil {
		return false, p.classify(ctx, kindPage, "fetch page", failedPage, firstErr)
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	short := false
	for slot, items := range pages {
		page := batch[slot]
		items = p.clip(items, page.Size, "page", page.Index)
		p.appendItems(items, page.Index)
		if len(items) < page.Size {
			// Pages after a short one are past the end of the list.
			short = true
			break
		}
	}

	p.logger.Debug().
		Int("first_page", batch[0].Index).
		Int("last_page", batch[len(batch)-1].Index).
		Int("arrived", p.log.Len()).
		Msg("Batch complete")

	return short, nil
}

// batchWorker processes pages from the queue until it is drained.
func (p *Pipeline) batchWorker(ctx context.Context, batch []PageDescriptor, pageQueue <-chan int, results chan<- pageResult, cancel context.CancelFunc, wg *sync.WaitGroup) {
	defer wg.Done()

	for slot := range pageQueue {
		select {
		case <-ctx.Done():
			return
		default:
		}

		page := batch[slot]
		start := time.Now()
		items, err := p.pages.FetchPage(ctx, page.Index, page.Size)
		fetchDuration.WithLabelValues(kindPage).Observe(time.Since(start).Seconds())

		if err != nil {
			p.logger.Warn().
				Err(err).
				Int("page", page.Index).
				Msg("Page fetch failed")
			// Results is buffered for the whole batch, the send never blocks.
			results <- pageResult{slot: slot, err: err}
			cancel()
			return
		}

		fetchesTotal.WithLabelValues(kindPage, "ok").Inc()
		results <- pageResult{slot: slot, items: items}
	}
}
