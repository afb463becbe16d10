package daktela

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/keboola/component-daktela/pkg/config"
	"github.com/keboola/component-daktela/pkg/metrics"
	"github.com/keboola/component-daktela/pkg/models"
)

// PageHandler consumes one fetched page. Handlers are called from multiple
// goroutines and must be safe for concurrent use. Page order is not
// guaranteed beyond the first page.
type PageHandler func(page *models.Page) error

// FetchResult summarizes one endpoint's paginated fetch.
type FetchResult struct {
	Total         int
	Pages         int
	Records       int
	DroppedFilter bool
}

// FetchAllPages retrieves every page of an endpoint. The first page is
// fetched alone to learn the total; the remaining offsets are computed from
// it and fetched concurrently, each request gated by the shared request
// semaphore when one is supplied.
func (c *Client) FetchAllPages(ctx context.Context, ep config.Endpoint, filter DateFilter, requestSem chan struct{}, handler PageHandler) (*FetchResult, error) {
	acquire := func(ctx context.Context) error {
		if requestSem == nil {
			return nil
		}
		select {
		case requestSem <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	release := func() {
		if requestSem != nil {
			<-requestSem
		}
	}

	if err := acquire(ctx); err != nil {
		return nil, err
	}
	first, droppedFilter, err := c.FetchPage(ctx, ep, 0, filter)
	release()
	if err != nil {
		return nil, err
	}
	if droppedFilter {
		// The remaining pages must match the first page's query
		filter = DateFilter{}
	}

	result := &FetchResult{
		Total:         first.Total,
		Pages:         1,
		Records:       len(first.Data),
		DroppedFilter: droppedFilter,
	}
	metrics.PagesFetched.WithLabelValues(ep.Name).Inc()

	if err := handler(first); err != nil {
		return nil, err
	}

	// Remaining offsets derive from the server-reported total
	offsets := make([]int, 0)
	for skip := c.pageSize; skip < first.Total; skip += c.pageSize {
		offsets = append(offsets, skip)
	}
	if len(offsets) == 0 {
		return result, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, skip := range offsets {
		wg.Add(1)
		go func(skip int) {
			defer wg.Done()

			if err := acquire(fetchCtx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			page, _, err := c.FetchPage(fetchCtx, ep, skip, filter)
			release()
			if err == nil {
				err = handler(page)
			}

			mu.Lock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}
			result.Pages++
			result.Records += len(page.Data)
			mu.Unlock()
			metrics.PagesFetched.WithLabelValues(ep.Name).Inc()
		}(skip)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	c.logger.Debug("endpoint pages fetched",
		zap.String("endpoint", ep.Name),
		zap.Int("total", result.Total),
		zap.Int("pages", result.Pages),
		zap.Int("records", result.Records))
	return result, nil
}
