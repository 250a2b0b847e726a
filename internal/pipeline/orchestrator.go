// Package pipeline provides the run orchestration engine for chemflow. It
// drives the stage state machine (extract, transform, validate, write),
// fanning extraction out over per-source worker pools, reducing the source
// tables through the merge engine, gating the result through the injected
// validator, and publishing atomically through the deterministic writer.
//
// Stage transitions are strictly sequential per run; any stage failure moves
// the run directly to Failed and guarantees no partial artifact is
// published. Cross-run concurrency is safe because every run owns its own
// client instances and a unique run directory.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chemflow/chemflow/pkg/cferrors"
	"github.com/chemflow/chemflow/pkg/clients"
	"github.com/chemflow/chemflow/pkg/config"
	"github.com/chemflow/chemflow/pkg/extract"
	"github.com/chemflow/chemflow/pkg/logger"
	"github.com/chemflow/chemflow/pkg/merge"
	"github.com/chemflow/chemflow/pkg/metrics"
	"github.com/chemflow/chemflow/pkg/validate"
	"github.com/chemflow/chemflow/pkg/writer"
)

// Orchestrator drives one pipeline run at a time. Each call to Run owns
// independent client instances, so separate orchestrators (or sequential
// runs) never share mutable state.
type Orchestrator struct {
	cfg       *config.Config
	registry  *extract.Registry
	validator validate.Validator
	log       *zap.Logger
}

// NewOrchestrator creates an orchestrator from a validated configuration, a
// per-run extractor registry, and an injected validator.
func NewOrchestrator(cfg *config.Config, registry *extract.Registry, validator validate.Validator, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		validator: validator,
		log:       log,
	}
}

// Run executes the stage state machine once. The returned PipelineRun is
// final: its stage is Done on success and Failed on any error, including
// cancellation. No partial artifact is ever visible under the run directory
// on failure.
func (o *Orchestrator) Run(ctx context.Context) (*PipelineRun, error) {
	run := &PipelineRun{
		RunID:          uuid.NewString(),
		Pipeline:       o.cfg.Pipeline.Name,
		Stage:          StageExtract,
		StartedAt:      time.Now(),
		StageDurations: make(map[Stage]time.Duration),
	}

	ctx = logger.ContextWithRun(ctx, run.RunID)
	if o.cfg.Pipeline.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Pipeline.RunDeadline)
		defer cancel()
	}

	log := o.log.With(zap.String("run_id", run.RunID), zap.String("pipeline", run.Pipeline))
	log.Info("starting pipeline run",
		zap.Strings("sources", o.cfg.SourceNames()),
		zap.Int("workers", o.cfg.Pipeline.Workers))

	runDir := filepath.Join(o.cfg.Writer.OutputDir, o.cfg.Pipeline.Name, run.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return o.fail(run, runDir, log, cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to create run directory"))
	}

	// Extract
	tables, err := runStage(ctx, run, StageExtract, log, func(ctx context.Context) ([]extract.Table, error) {
		return o.extract(ctx, run)
	})
	if err != nil {
		return o.fail(run, runDir, log, err)
	}

	// Transform
	run.Stage = StageTransform
	rows, err := runStage(ctx, run, StageTransform, log, func(ctx context.Context) ([]merge.MergedRow, error) {
		engine := merge.NewEngine(o.cfg.Merge)
		merged := engine.Merge(tables)
		metrics.RowsProcessed.WithLabelValues(string(StageTransform), "success").Add(float64(len(merged)))
		return merged, nil
	})
	if err != nil {
		return o.fail(run, runDir, log, err)
	}

	// Validate
	run.Stage = StageValidate
	if _, err = runStage(ctx, run, StageValidate, log, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.validator.Validate(ctx, rows)
	}); err != nil {
		return o.fail(run, runDir, log, err)
	}

	// Write
	run.Stage = StageWrite
	artifact, err := runStage(ctx, run, StageWrite, log, func(ctx context.Context) (*writer.OutputArtifact, error) {
		w := writer.NewDeterministicWriter(o.cfg.Writer, o.cfg.Merge.BusinessKeyField, o.log)
		return w.Write(rows, runDir)
	})
	if err != nil {
		return o.fail(run, runDir, log, err)
	}
	run.Artifacts = append(run.Artifacts, artifact)

	// The manifest is part of the publish; a manifest failure fails the run
	if err := o.writeManifest(run, runDir, artifact); err != nil {
		return o.fail(run, runDir, log, err)
	}

	run.Stage = StageDone
	metrics.RunsCompleted.WithLabelValues("done").Inc()
	log.Info("pipeline run completed",
		zap.Int("rows", artifact.RowCount),
		zap.String("artifact", artifact.Path),
		zap.Duration("duration", time.Since(run.StartedAt)))

	// Retention failures never fail the run that triggered them
	if err := o.cleanupOldRuns(run.RunID); err != nil {
		log.Warn("retention cleanup failed", zap.Error(err))
	}

	return run, nil
}

// runStage times one stage hook and records its duration.
func runStage[T any](ctx context.Context, run *PipelineRun, stage Stage, log *zap.Logger, fn func(context.Context) (T, error)) (T, error) {
	stageCtx := logger.ContextWithStage(ctx, string(stage))
	log.Info("stage started", zap.String("stage", string(stage)))

	start := time.Now()
	result, err := fn(stageCtx)
	elapsed := time.Since(start)

	run.StageDurations[stage] = elapsed
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())

	if err != nil {
		log.Error("stage failed", zap.String("stage", string(stage)), zap.Duration("duration", elapsed), zap.Error(err))
		return result, err
	}

	log.Info("stage completed", zap.String("stage", string(stage)), zap.Duration("duration", elapsed))
	return result, nil
}

// fail finalizes the run as Failed and removes the run directory so no
// partial artifact or manifest remains.
func (o *Orchestrator) fail(run *PipelineRun, runDir string, log *zap.Logger, err error) (*PipelineRun, error) {
	run.Stage = StageFailed
	metrics.RunsCompleted.WithLabelValues("failed").Inc()

	if rmErr := os.RemoveAll(runDir); rmErr != nil {
		log.Warn("failed to remove run directory", zap.String("dir", runDir), zap.Error(rmErr))
	}

	log.Error("pipeline run failed", zap.Error(err))
	return run, err
}

// extract pulls every configured source concurrently. One source's failure
// is recorded and, when the configuration allows, the run proceeds with
// reduced enrichment; otherwise the first failure aborts extraction.
func (o *Orchestrator) extract(ctx context.Context, run *PipelineRun) ([]extract.Table, error) {
	type result struct {
		table extract.Table
		err   error
	}

	sources := o.cfg.SourceNames()
	results := make(chan result, len(sources))

	var wg sync.WaitGroup
	for _, source := range sources {
		wg.Add(1)
		go func(source string) {
			defer wg.Done()
			table, err := o.extractSource(ctx, source)
			results <- result{table: table, err: err}
		}(source)
	}
	wg.Wait()
	close(results)

	var tables []extract.Table
	for res := range results {
		if res.err != nil {
			if run.SourceErrors == nil {
				run.SourceErrors = make(map[string]string)
			}
			run.SourceErrors[res.table.Source] = res.err.Error()
			metrics.RowsProcessed.WithLabelValues(string(StageExtract), "failure").Inc()

			if !o.cfg.Pipeline.ContinueOnSourceError {
				return nil, res.err
			}
			continue
		}
		metrics.RowsProcessed.WithLabelValues(string(StageExtract), "success").Add(float64(len(res.table.Rows)))
		tables = append(tables, res.table)
	}

	if len(tables) == 0 {
		return nil, cferrors.New(cferrors.ErrorTypeNetwork, "extraction failed for every source")
	}

	// Any cancellation observed during extraction fails the run even when
	// partial-source failures are tolerated
	if err := ctx.Err(); err != nil {
		return nil, cferrors.Wrap(err, cferrors.ErrorTypeNetwork, "run cancelled during extraction")
	}

	return tables, nil
}

// extractSource runs one source's extractor behind its own API client, with
// a bounded worker pool draining row pages.
func (o *Orchestrator) extractSource(ctx context.Context, source string) (extract.Table, error) {
	table := extract.Table{Source: source}
	srcCfg := o.cfg.Sources[source]

	ctx = logger.ContextWithSource(ctx, source)
	log := logger.WithContext(ctx)

	extractor, err := o.registry.Create(source, srcCfg)
	if err != nil {
		return table, err
	}

	client := clients.NewAPIClient(source, srcCfg, o.log)
	defer client.Close()

	stream, err := extractor.Extract(ctx, client)
	if err != nil {
		return table, cferrors.Wrap(err, cferrors.TypeOf(err), "failed to start extraction").
			WithDetail("source", source)
	}

	var (
		mu       sync.Mutex
		pages    []extract.Page
		firstErr error
		wg       sync.WaitGroup
	)

	for i := 0; i < o.cfg.Pipeline.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case page, ok := <-stream.Pages:
					if !ok {
						return
					}
					mu.Lock()
					pages = append(pages, page)
					mu.Unlock()

				case err, ok := <-stream.Errors:
					if ok && err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
					}

				case <-ctx.Done():
					return
				}
			}
		}(i)
	}
	wg.Wait()

	// A worker may exit on the closed page channel before seeing a pending
	// error; drain whatever is left
	for done := false; !done; {
		select {
		case err, ok := <-stream.Errors:
			if !ok {
				done = true
			} else if err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			done = true
		}
	}

	if err := ctx.Err(); err != nil {
		return table, cferrors.Wrap(err, cferrors.ErrorTypeNetwork, "extraction cancelled").
			WithDetail("source", source)
	}
	if firstErr != nil {
		return table, firstErr
	}

	// Workers race to drain pages, so arrival order is scheduling-dependent.
	// Reassembling by sequence number keeps the table in fetch order; when a
	// source repeats a business key across pages, ByKey then resolves the
	// same occurrence on every run.
	sort.Slice(pages, func(i, j int) bool { return pages[i].Seq < pages[j].Seq })
	for _, page := range pages {
		table.Append(page.Rows)
	}

	stats := client.GetStats()
	log.Info("source extraction finished",
		zap.Int("rows", len(table.Rows)),
		zap.Int64("requests", stats.TotalRequests),
		zap.Int64("failed_requests", stats.FailedRequests),
		zap.Int64("cache_hits", stats.Cache.Hits))

	return table, nil
}

// writeManifest emits the metadata record next to the published artifact.
func (o *Orchestrator) writeManifest(run *PipelineRun, runDir string, artifact *writer.OutputArtifact) error {
	durations := make(map[string]int64, len(run.StageDurations))
	for stage, d := range run.StageDurations {
		durations[string(stage)] = d.Milliseconds()
	}

	manifest := Manifest{
		SchemaVersion:    o.cfg.Writer.SchemaVersion,
		RunID:            run.RunID,
		Pipeline:         run.Pipeline,
		RowCount:         artifact.RowCount,
		BusinessKeyField: artifact.BusinessKeyField,
		SortKeys:         artifact.SortKeys,
		HashAlgo:         artifact.HashAlgo,
		FileChecksums: map[string]string{
			filepath.Base(artifact.Path): artifact.FileChecksum,
		},
		StageDurationsMS:  durations,
		ConfigFingerprint: o.cfg.Fingerprint(),
		GeneratedAt:       time.Now().UTC(),
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to encode manifest")
	}

	path := filepath.Join(runDir, ManifestFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return cferrors.Wrap(err, cferrors.ErrorTypeWrite, "failed to write manifest").
			WithDetail("path", path)
	}
	return nil
}
