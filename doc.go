// Package chemflow acquires bibliographic and bioactivity records from
// public REST APIs, merges them into one enriched table, and publishes
// byte-reproducible artifacts.
//
// Every upstream call goes through a composed client that layers a response
// cache, a circuit breaker, a token-bucket rate limiter, and classified
// retries around plain HTTP, so public APIs are queried politely and
// transient faults never abort a run on their own. Downstream, rows from all
// sources are merged by per-field source precedence, validated, sorted, and
// written atomically; two runs over the same inputs and configuration
// produce byte-identical artifacts with identical checksums.
//
// # Quick Start
//
// Run a pipeline from a YAML configuration:
//
//	import (
//	    "context"
//	    "github.com/chemflow/chemflow/internal/pipeline"
//	    "github.com/chemflow/chemflow/pkg/config"
//	    "github.com/chemflow/chemflow/pkg/extract"
//	    "github.com/chemflow/chemflow/pkg/extract/sources"
//	    "github.com/chemflow/chemflow/pkg/logger"
//	    "github.com/chemflow/chemflow/pkg/validate"
//	)
//
//	cfg, _ := config.Load("chemflow.yaml")
//	registry := extract.NewRegistry(logger.Get())
//	_ = sources.RegisterBuiltin(registry)
//
//	o := pipeline.NewOrchestrator(cfg, registry, validate.NewSchemaValidator(nil), logger.Get())
//	run, err := o.Run(context.Background())
//
// # Key Packages
//
//	pkg/clients      - Composed API client: cache, breaker, limiter, retries
//	pkg/extract      - Row model, paged REST extraction, source registry
//	pkg/merge        - Precedence-based multi-source field resolution
//	pkg/writer       - Canonical hashing and atomic, deterministic output
//	pkg/validate     - Post-merge schema validation
//	internal/pipeline - Run orchestration, manifests, retention
package chemflow
