// Package compiler turns natural-language specification sources into
// cacheable execution plans. Interpretation is delegated to an external
// reasoning oracle with a deterministic keyword heuristic as the terminal
// fallback; target selectors are always left empty for resolution at
// execution time.
package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/config"
)

// Compiler compiles specification sources into execution plans.
type Compiler struct {
	cfg    config.CompilerConfig
	oracle schemas.ReasoningOracle
	cache  *PlanCache
	logger *zap.Logger
}

// New creates a compiler. A nil cache (when caching is disabled) is valid.
func New(cfg config.CompilerConfig, oracle schemas.ReasoningOracle, logger *zap.Logger) (*Compiler, error) {
	c := &Compiler{
		cfg:    cfg,
		oracle: oracle,
		logger: logger.Named("compiler"),
	}
	if cfg.CacheEnabled {
		cache, err := NewPlanCache(cfg.CacheDir, cfg.CacheMaxAge, logger)
		if err != nil {
			// A broken cache directory degrades to uncached compilation.
			logger.Warn("Plan cache unavailable, compiling uncached.", zap.Error(err))
		} else {
			c.cache = cache
		}
	}
	return c, nil
}

// Compile produces the execution plan for one specification source. It
// fails only with ParseError; oracle and cache problems degrade.
func (c *Compiler) Compile(ctx context.Context, sourceText, sourcePath string) (*schemas.ExecutionPlan, error) {
	basename := filepath.Base(sourcePath)
	hash := HashContent(sourceText)
	log := c.logger.With(zap.String("file", basename))

	if c.cache != nil && !c.cfg.ForceRecompile {
		if cached, ok := c.cache.Lookup(basename, hash); ok {
			log.Info("Plan cache hit.", zap.String("hash", hash[:12]))
			// Substitution is reapplied on every load so cached plans still
			// get fresh dynamic values.
			SubstitutePlaceholders(cached)
			return cached, nil
		}
	}

	feature, err := ParseFeature(sourceText, sourcePath)
	if err != nil {
		return nil, err
	}
	scenarios := ExpandOutlines(feature)
	log.Info("Parsed feature source.",
		zap.String("feature", feature.Name),
		zap.Int("scenarios", len(scenarios)))

	plan := c.interpret(ctx, feature, scenarios, log)

	if c.cache != nil {
		if err := c.cache.Store(basename, hash, plan); err != nil {
			var cacheErr *schemas.CacheError
			if errors.As(err, &cacheErr) {
				log.Warn("Failed to persist plan to cache.", zap.Error(err))
			}
		}
	}

	SubstitutePlaceholders(plan)
	return plan, nil
}

// CompileFile reads one source file and compiles it. An unreadable file is
// a ParseError scoped to that file, like any other unusable source.
func (c *Compiler) CompileFile(ctx context.Context, path string) (*schemas.ExecutionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &schemas.ParseError{File: filepath.Base(path), Reason: err.Error()}
	}
	return c.Compile(ctx, string(data), path)
}

// interpret asks the reasoning oracle for a typed plan in a single batched
// request per file, then enforces the selector contract. Any failure
// degrades to the keyword heuristic; this path never returns an error.
func (c *Compiler) interpret(ctx context.Context, feature *RawFeature, scenarios []RawScenario, log *zap.Logger) *schemas.ExecutionPlan {
	if c.oracle == nil {
		return heuristicPlan(feature, scenarios)
	}

	req := schemas.InterpretRequest{
		FeatureName: feature.Name,
		Description: feature.Description,
		Scenarios:   rawToSchemas(scenarios),
	}

	plan, err := c.oracle.Interpret(ctx, req)
	if err != nil {
		log.Warn("Reasoning oracle failed, falling back to keyword heuristic.",
			zap.Error(&schemas.OracleInterpretationError{Err: err}))
		return heuristicPlan(feature, scenarios)
	}
	if err := plan.Validate(); err != nil {
		log.Warn("Oracle returned an unusable plan, falling back to keyword heuristic.",
			zap.Error(err))
		return heuristicPlan(feature, scenarios)
	}

	c.enforceContract(plan, scenarios, log)
	plan.Tags = feature.Tags
	plan.Language = feature.Language
	if plan.FeatureName == "" {
		plan.FeatureName = feature.Name
	}
	return plan
}

// enforceContract blanks selectors the oracle was instructed not to emit
// and backfills step descriptions from the source text, since a step with
// no description cannot be vision-resolved later.
func (c *Compiler) enforceContract(plan *schemas.ExecutionPlan, scenarios []RawScenario, log *zap.Logger) {
	for si := range plan.Scenarios {
		for ti := range plan.Scenarios[si].Steps {
			step := &plan.Scenarios[si].Steps[ti]
			if step.TargetSelector != "" {
				log.Warn("Oracle violated the empty-selector contract; ignoring its selector.",
					zap.String("selector", step.TargetSelector),
					zap.String("step", step.Description))
				step.TargetSelector = ""
			}
			if step.Description == "" {
				step.Description = step.OriginalText
			}
			if step.Description == "" && si < len(scenarios) && ti < len(scenarios[si].Steps) {
				step.Description = scenarios[si].Steps[ti]
			}
			if step.Action == "" {
				step.Action = schemas.ActionUnknown
			}
		}
	}
}

func rawToSchemas(scenarios []RawScenario) []schemas.Scenario {
	out := make([]schemas.Scenario, 0, len(scenarios))
	for _, raw := range scenarios {
		sc := schemas.Scenario{Name: raw.Name, ContextHint: raw.Context}
		for _, line := range raw.Steps {
			sc.Steps = append(sc.Steps, schemas.Step{OriginalText: line, Description: line})
		}
		out = append(out, sc)
	}
	return out
}
