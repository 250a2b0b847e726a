package pipeline

import (
	"time"

	"github.com/chemflow/chemflow/pkg/writer"
)

// Stage is one step of the pipeline state machine.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageValidate  Stage = "validate"
	StageWrite     Stage = "write"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// PipelineRun tracks one run through the stage state machine. It is created
// when the orchestrator starts, mutated only by the orchestrator as stages
// complete, and final once the stage reaches Done or Failed.
type PipelineRun struct {
	RunID          string                   `json:"run_id"`
	Pipeline       string                   `json:"pipeline"`
	Stage          Stage                    `json:"stage"`
	StartedAt      time.Time                `json:"started_at"`
	StageDurations map[Stage]time.Duration  `json:"stage_durations"`
	Artifacts      []*writer.OutputArtifact `json:"artifacts"`
	// SourceErrors records per-source extraction failures that did not
	// abort the run
	SourceErrors map[string]string `json:"source_errors,omitempty"`
}

// Manifest is the metadata record written next to the artifacts of a
// successful run. GeneratedAt is the only field allowed to vary between
// otherwise-identical runs.
type Manifest struct {
	SchemaVersion     string            `json:"schema_version"`
	RunID             string            `json:"run_id"`
	Pipeline          string            `json:"pipeline"`
	RowCount          int               `json:"row_count"`
	BusinessKeyField  string            `json:"business_key_field"`
	SortKeys          []string          `json:"sort_keys"`
	HashAlgo          string            `json:"hash_algo"`
	FileChecksums     map[string]string `json:"file_checksums"`
	StageDurationsMS  map[string]int64  `json:"stage_durations_ms"`
	ConfigFingerprint string            `json:"config_fingerprint"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

// ManifestFileName is the manifest's file name within a run directory.
const ManifestFileName = "manifest.json"
