// Package extractor orchestrates an extraction run: it authenticates,
// schedules endpoints across two phases under concurrency bounds, feeds raw
// records through the transformer and batches the resulting rows into the
// sink. Independent endpoints run first; the identity source and every
// dependent endpoint follow in dependency order so parent id sets always
// exist before their children are fetched.
package extractor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keboola/component-daktela/pkg/config"
	"github.com/keboola/component-daktela/pkg/daktela"
	"github.com/keboola/component-daktela/pkg/errors"
	"github.com/keboola/component-daktela/pkg/logger"
	"github.com/keboola/component-daktela/pkg/metrics"
	"github.com/keboola/component-daktela/pkg/models"
	"github.com/keboola/component-daktela/pkg/sink"
	"github.com/keboola/component-daktela/pkg/state"
	stringpool "github.com/keboola/component-daktela/pkg/strings"
	"github.com/keboola/component-daktela/pkg/transform"
)

// Extractor runs one extraction against one Daktela instance.
type Extractor struct {
	cfg    *config.Config
	client *daktela.Client
	sink   sink.Sink
	logger *zap.Logger

	server    string
	endpoints []config.Endpoint

	// requestSem bounds in-flight HTTP requests across all endpoints,
	// endpointSem bounds endpoints extracted at the same time.
	requestSem  chan struct{}
	endpointSem chan struct{}

	invalidIDs *invalidIDSet

	mu    sync.Mutex
	stats []models.TableStats
}

// New creates an extractor. The endpoint selection is resolved immediately
// so configuration mistakes surface before any network traffic. Selected
// names the catalog does not know are skipped with a warning; an empty
// resolved selection is a configuration error.
func New(cfg *config.Config, client *daktela.Client, s sink.Sink) (*Extractor, error) {
	endpoints, unknown, err := config.ResolveEndpoints(cfg.DataSelection)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid endpoint selection")
	}
	for _, name := range unknown {
		logger.Warn("skipping unknown endpoint", zap.String("endpoint", name))
	}
	if len(endpoints) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no known endpoints selected")
	}

	server := cfg.ServerName()
	return &Extractor{
		cfg:         cfg,
		client:      client,
		sink:        s,
		logger:      logger.With(zap.String("component", "extractor")),
		server:      server,
		endpoints:   endpoints,
		requestSem:  make(chan struct{}, cfg.Advanced.MaxConcurrentRequests),
		endpointSem: make(chan struct{}, cfg.Advanced.MaxConcurrentEndpoints),
		invalidIDs:  newInvalidIDSet(server),
	}, nil
}

// TableName returns the output table of an endpoint, prefixed with the
// server name: acme_tickets.
func (e *Extractor) TableName(endpoint string) string {
	if e.server == "" {
		return endpoint
	}
	return stringpool.Concat(e.server, "_", endpoint)
}

// Run performs the full extraction and returns the run state. Endpoint
// failures do not stop sibling endpoints; the first error is returned after
// every endpoint finished.
func (e *Extractor) Run(ctx context.Context) (*state.RunState, error) {
	started := time.Now()
	ctx = context.WithValue(ctx, logger.RunIDKey,
		started.UTC().Format("20060102T150405Z"))

	if err := e.client.Login(ctx); err != nil {
		return nil, err
	}

	var phase1, phase2 []config.Endpoint
	for _, ep := range e.endpoints {
		if ep.IsDependent() || ep.Name == config.IdentitySource {
			phase2 = append(phase2, ep)
		} else {
			phase1 = append(phase1, ep)
		}
	}

	logger.WithContext(ctx).Info("starting extraction",
		zap.String("server", e.server),
		zap.Int("independent_endpoints", len(phase1)),
		zap.Int("dependent_endpoints", len(phase2)))

	firstErr := e.runPhase(ctx, phase1)

	// Phase 2 runs in dependency waves: an endpoint is eligible once its
	// parent completed, either in phase 1 or in an earlier wave.
	done := make(map[string]bool, len(phase1))
	for _, ep := range phase1 {
		done[ep.Name] = true
	}
	if err := e.runWaves(ctx, phase2, done); err != nil && firstErr == nil {
		firstErr = err
	}

	st := &state.RunState{
		Server:     e.server,
		StartedAt:  started,
		FinishedAt: time.Now(),
		DateFrom:   e.cfg.DataSelection.DateFrom,
		DateTo:     e.cfg.DataSelection.DateTo,
		Tables:     e.tableStats(),
	}
	for _, t := range st.Tables {
		st.TotalRows += t.Rows
	}
	if firstErr != nil {
		st.TotalErrors++
	}
	return st, firstErr
}

// runPhase extracts a set of endpoints concurrently, bounded by the
// endpoint semaphore.
func (e *Extractor) runPhase(ctx context.Context, endpoints []config.Endpoint) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep config.Endpoint) {
			defer wg.Done()

			select {
			case e.endpointSem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				if firstErr == nil {
					firstErr = ctx.Err()
				}
				mu.Unlock()
				return
			}
			defer func() { <-e.endpointSem }()

			metrics.ActiveEndpoints.Inc()
			err := e.extractEndpoint(ctx, ep)
			metrics.ActiveEndpoints.Dec()

			if err != nil {
				e.logger.Error("endpoint extraction failed",
					zap.String("endpoint", ep.Name), zap.Error(err))
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(ep)
	}
	wg.Wait()
	return firstErr
}

// runWaves schedules endpoints so every parent completes before its
// children start. Endpoints of one wave run concurrently. done carries the
// names of endpoints already extracted in earlier phases.
func (e *Extractor) runWaves(ctx context.Context, endpoints []config.Endpoint, done map[string]bool) error {
	remaining := append([]config.Endpoint(nil), endpoints...)

	var firstErr error
	for len(remaining) > 0 {
		var wave, rest []config.Endpoint
		for _, ep := range remaining {
			if ep.Parent == "" || done[ep.Parent] {
				wave = append(wave, ep)
			} else {
				rest = append(rest, ep)
			}
		}
		if len(wave) == 0 {
			// Parents outside the selection: their children cannot run
			names := make([]string, 0, len(rest))
			for _, ep := range rest {
				names = append(names, ep.Name)
			}
			return errors.New(errors.ErrorTypeConfig,
				stringpool.Sprintf("unresolvable parent dependencies for endpoints: %v", names))
		}

		if err := e.runPhase(ctx, wave); err != nil && firstErr == nil {
			firstErr = err
		}
		for _, ep := range wave {
			done[ep.Name] = true
		}
		remaining = rest
	}
	return firstErr
}

// extractEndpoint pulls one endpoint, independent or dependent, into its
// output table.
func (e *Extractor) extractEndpoint(ctx context.Context, ep config.Endpoint) error {
	ctx = context.WithValue(ctx, logger.EndpointKey, ep.Name)

	if ep.IsDependent() {
		return e.extractDependent(ctx, ep)
	}
	return e.extractIndependent(ctx, ep)
}

func (e *Extractor) extractIndependent(ctx context.Context, ep config.Endpoint) error {
	table := e.TableName(ep.Name)
	tr := transform.New(ep)
	batcher := newBatcher(e.sink, table, e.cfg.Advanced.BatchSize)

	filter := daktela.DateFilter{
		Field: ep.DateField,
		From:  e.cfg.DataSelection.DateFrom,
		To:    e.cfg.DataSelection.DateTo,
	}

	invalid := 0
	var handlerMu sync.Mutex
	handler := func(page *models.Page) error {
		handlerMu.Lock()
		defer handlerMu.Unlock()

		for _, raw := range page.Data {
			if ep.Name == config.IdentitySource && !tr.HasKeyFields(raw) {
				invalid++
				metrics.InvalidRecords.WithLabelValues(ep.Name).Inc()
				if id, ok := raw["name"].(string); ok {
					e.mu.Lock()
					e.invalidIDs.Add(id)
					e.mu.Unlock()
				}
				continue
			}
			for _, row := range tr.Transform(raw) {
				if err := batcher.Add(row); err != nil {
					return err
				}
			}
		}
		return nil
	}

	result, err := e.client.FetchAllPages(ctx, ep, filter, e.requestSem, handler)
	if err != nil {
		return err
	}
	if err := batcher.Flush(); err != nil {
		return err
	}
	if err := e.sink.FinalizeTable(table); err != nil {
		return err
	}

	e.recordStats(models.TableStats{
		Endpoint:   ep.Name,
		Table:      table,
		Records:    result.Records,
		Rows:       batcher.Rows(),
		Pages:      result.Pages,
		InvalidIDs: invalid,
		FilterDrop: result.DroppedFilter,
	})
	return nil
}

// extractDependent fetches the child sub-resource for each parent id read
// back from the parent's finished table. Fetches run one at a time in the
// parent table's row order, so child rows land in that order and a parent
// appearing twice is fetched twice.
func (e *Extractor) extractDependent(ctx context.Context, ep config.Endpoint) error {
	parent := e.endpointByName(ep.Parent)
	if parent == nil {
		return errors.New(errors.ErrorTypeConfig,
			stringpool.Sprintf("endpoint %q requires parent %q which was not extracted", ep.Name, ep.Parent))
	}

	parentIDs, err := e.sink.ReadColumnValues(e.TableName(parent.Name), "id")
	if err != nil {
		return err
	}

	// Records missing key fields are only tracked for the identity source;
	// other parents pass their ids through untouched.
	identityParent := parent.Name == config.IdentitySource
	ids := make([]string, 0, len(parentIDs))
	for _, value := range parentIDs {
		id := StripIDPrefix(value, e.server, parent.Name)
		if id == "" {
			continue
		}
		if identityParent {
			e.mu.Lock()
			invalid := e.invalidIDs.Contains(id)
			e.mu.Unlock()
			if invalid {
				continue
			}
		}
		ids = append(ids, id)
	}

	log := logger.WithContext(ctx)
	log.Info("extracting dependent endpoint",
		zap.String("parent", parent.Name),
		zap.Int("parent_ids", len(ids)))

	table := e.TableName(ep.Name)
	tr := transform.New(ep)
	batcher := newBatcher(e.sink, table, e.cfg.Advanced.BatchSize)

	var records, calls, skipped int
	for _, id := range ids {
		select {
		case e.requestSem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		data, err := e.client.FetchDependent(ctx, *parent, ep, id)
		<-e.requestSem

		if err != nil {
			// A single failed parent id must not abort the endpoint
			log.Warn("dependent fetch failed, skipping parent id",
				zap.String("parent_id", id),
				zap.Error(err))
			skipped++
			continue
		}
		calls++
		records += len(data)
		for _, raw := range data {
			for _, row := range tr.Transform(raw) {
				if err := batcher.Add(row); err != nil {
					return err
				}
			}
		}
	}

	if err := batcher.Flush(); err != nil {
		return err
	}
	if err := e.sink.FinalizeTable(table); err != nil {
		return err
	}

	e.recordStats(models.TableStats{
		Endpoint:   ep.Name,
		Table:      table,
		Records:    records,
		Rows:       batcher.Rows(),
		Pages:      calls,
		SkippedIDs: skipped,
	})
	return nil
}

func (e *Extractor) endpointByName(name string) *config.Endpoint {
	for i := range e.endpoints {
		if e.endpoints[i].Name == name {
			return &e.endpoints[i]
		}
	}
	return nil
}

func (e *Extractor) recordStats(stats models.TableStats) {
	e.mu.Lock()
	e.stats = append(e.stats, stats)
	e.mu.Unlock()

	if stats.Rows == 0 {
		e.logger.Warn("endpoint yielded no rows",
			zap.String("endpoint", stats.Endpoint),
			zap.String("table", stats.Table))
	}
	e.logger.Info("endpoint extracted",
		zap.String("endpoint", stats.Endpoint),
		zap.String("table", stats.Table),
		zap.Int("records", stats.Records),
		zap.Int("rows", stats.Rows),
		zap.Int("pages", stats.Pages),
		zap.Int("invalid_ids", stats.InvalidIDs))
}

func (e *Extractor) tableStats() []models.TableStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.TableStats(nil), e.stats...)
}

// InvalidIDCount reports how many identity source records were dropped.
func (e *Extractor) InvalidIDCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invalidIDs.Len()
}
