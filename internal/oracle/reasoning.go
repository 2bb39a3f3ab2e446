package oracle

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/config"
)

// Reasoning implements schemas.ReasoningOracle over a chat model. One
// batched request is issued per feature file, never one per scenario.
type Reasoning struct {
	client *Client
	logger *zap.Logger
}

var _ schemas.ReasoningOracle = (*Reasoning)(nil)

// NewReasoning builds the reasoning oracle for the configured model.
func NewReasoning(cfg config.OracleModelConfig, logger *zap.Logger) *Reasoning {
	return &Reasoning{
		client: NewClient(cfg, logger),
		logger: logger.Named("reasoning_oracle"),
	}
}

// interpretResponse is the JSON envelope the prompt demands.
type interpretResponse struct {
	TestKind  string `json:"testKind"`
	Scenarios []struct {
		Name    string         `json:"name"`
		Context string         `json:"context"`
		Steps   []schemas.Step `json:"steps"`
	} `json:"scenarios"`
}

// Interpret sends the scenario set and decodes the typed plan. Callers
// treat any returned error as OracleInterpretationError territory and
// degrade to the heuristic; nothing here is fatal to a run.
func (r *Reasoning) Interpret(ctx context.Context, req schemas.InterpretRequest) (*schemas.ExecutionPlan, error) {
	body, err := jsoniter.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding interpretation request: %w", err)
	}

	r.logger.Debug("Requesting plan interpretation.",
		zap.String("feature", req.FeatureName),
		zap.Int("scenarios", len(req.Scenarios)))

	text, err := r.client.Complete(ctx, reasoningSystemPrompt, []Message{
		{Role: "user", Text: string(body)},
	})
	if err != nil {
		return nil, err
	}

	var parsed interpretResponse
	if err := jsoniter.UnmarshalFromString(UnwrapJSON(text), &parsed); err != nil {
		return nil, fmt.Errorf("oracle output is not the expected JSON shape: %w", err)
	}

	plan := &schemas.ExecutionPlan{
		FeatureName: req.FeatureName,
		Description: req.Description,
		TestKind:    parsed.TestKind,
	}
	for _, sc := range parsed.Scenarios {
		plan.Scenarios = append(plan.Scenarios, schemas.Scenario{
			Name:        sc.Name,
			ContextHint: sc.Context,
			Steps:       sc.Steps,
		})
	}
	return plan, nil
}
