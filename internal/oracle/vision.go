package oracle

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/config"
)

// Vision implements schemas.VisionOracle over a multimodal chat model.
// Callers must attach a fresh capture to every request: page staleness is
// the dominant correctness risk, so snapshots are never reused between
// calls.
type Vision struct {
	client *Client
	logger *zap.Logger
}

var _ schemas.VisionOracle = (*Vision)(nil)

// NewVision builds the vision oracle for the configured model.
func NewVision(cfg config.OracleModelConfig, logger *zap.Logger) *Vision {
	return &Vision{
		client: NewClient(cfg, logger),
		logger: logger.Named("vision_oracle"),
	}
}

// Resolve asks the oracle to map the instruction onto the screenshot and
// returns the ranked resolution. Unparsable output is retried once with a
// fresh completion, then surfaced as ResolutionError. Confidence and
// reasoning are advisory only and never gate control flow here or upstream.
func (v *Vision) Resolve(ctx context.Context, req schemas.ResolveRequest) (*schemas.Resolution, error) {
	if len(req.Screenshot) == 0 {
		return nil, &schemas.ResolutionError{
			Instruction: req.Instruction,
			Err:         fmt.Errorf("no page capture supplied"),
		}
	}

	prompt := v.buildPrompt(req)
	messages := []Message{{Role: "user", Text: prompt, Image: req.Screenshot}}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, err := v.client.Complete(ctx, "", messages)
		if err != nil {
			return nil, &schemas.ResolutionError{Instruction: req.Instruction, Err: err}
		}

		resolution, err := v.parse(req, text)
		if err == nil {
			v.logger.Debug("Vision resolution succeeded.",
				zap.String("instruction", req.Instruction),
				zap.String("selector", resolution.PrimarySelector),
				zap.String("confidence", string(resolution.Confidence)),
				zap.String("reasoning", resolution.Reasoning))
			return resolution, nil
		}
		lastErr = err
		v.logger.Warn("Vision output unparsable, retrying once.",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return nil, &schemas.ResolutionError{Instruction: req.Instruction, Err: lastErr}
}

func (v *Vision) buildPrompt(req schemas.ResolveRequest) string {
	switch req.Action {
	case schemas.ActionType:
		data := req.Payload.Fields
		if data == nil && req.Payload.Value != "" {
			data = map[string]string{"value": req.Payload.Value}
		}
		fieldJSON, _ := jsoniter.MarshalToString(data)
		return fmt.Sprintf(visionTypePrompt, req.Instruction, fieldJSON)
	case schemas.ActionSelect:
		return fmt.Sprintf(visionSelectPrompt, req.Instruction, req.Payload.Value)
	case schemas.ActionValidate:
		return fmt.Sprintf(visionValidatePrompt, req.Instruction)
	default:
		// click, hover and anything element-directed share the single
		// selector schema.
		return fmt.Sprintf(visionClickPrompt, req.Instruction)
	}
}

func (v *Vision) parse(req schemas.ResolveRequest, text string) (*schemas.Resolution, error) {
	var resolution schemas.Resolution
	if err := jsoniter.UnmarshalFromString(UnwrapJSON(text), &resolution); err != nil {
		return nil, fmt.Errorf("decoding vision output: %w", err)
	}

	switch req.Action {
	case schemas.ActionValidate:
		// The boolean-found descriptor may legitimately carry no selector.
	case schemas.ActionType:
		if resolution.PrimarySelector == "" && len(resolution.AuxiliaryTargets) == 0 {
			return nil, fmt.Errorf("vision output carried neither a selector nor fields")
		}
		if resolution.PrimarySelector == "" {
			resolution.PrimarySelector = resolution.AuxiliaryTargets[0].Selector
		}
	default:
		if resolution.PrimarySelector == "" {
			return nil, fmt.Errorf("vision output carried no selector")
		}
	}

	if resolution.Confidence == "" {
		resolution.Confidence = schemas.ConfidenceLow
	}
	return &resolution, nil
}
