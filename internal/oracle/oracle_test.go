package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/config"
)

// openAIResponse wraps content in the OpenAI chat-completions envelope.
func openAIResponse(content string) string {
	body, _ := jsoniter.MarshalToString(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return body
}

func fakeOracleServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, config.OracleModelConfig) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, config.OracleModelConfig{
		Provider:   config.ProviderOpenAI,
		Model:      "test-model",
		APIKey:     "test-key",
		Endpoint:   srv.URL,
		APITimeout: 5 * time.Second,
	}
}

func TestUnwrapJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced without language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading whitespace", "\n  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnwrapJSON(tt.in))
		})
	}
}

func TestReasoningInterpretDecodesPlan(t *testing.T) {
	planJSON := `{"testKind":"acceptance","scenarios":[{"name":"Login","context":"","steps":[
		{"actionKind":"navigate","targetSelector":"","payload":"/login","expectation":null,"description":"open the login page"},
		{"actionKind":"type","targetSelector":"","payload":{"email":"a@b.com"},"expectation":null,"description":"enter the email"}
	]}]}`

	var gotAuth atomic.Value
	_, cfg := fakeOracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		fmt.Fprint(w, openAIResponse("```json\n"+planJSON+"\n```"))
	})

	oracle := NewReasoning(cfg, zaptest.NewLogger(t))
	plan, err := oracle.Interpret(context.Background(), schemas.InterpretRequest{
		FeatureName: "Login",
		Scenarios:   []schemas.Scenario{{Name: "Login"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth.Load())
	assert.Equal(t, "acceptance", plan.TestKind)
	require.Len(t, plan.Scenarios, 1)
	require.Len(t, plan.Scenarios[0].Steps, 2)
	assert.Equal(t, schemas.ActionNavigate, plan.Scenarios[0].Steps[0].Action)
	assert.Equal(t, "/login", plan.Scenarios[0].Steps[0].Payload.Value)
	assert.Equal(t, "a@b.com", plan.Scenarios[0].Steps[1].Payload.Fields["email"])
}

func TestReasoningInterpretRejectsGarbage(t *testing.T) {
	_, cfg := fakeOracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openAIResponse("I cannot help with that."))
	})

	oracle := NewReasoning(cfg, zaptest.NewLogger(t))
	_, err := oracle.Interpret(context.Background(), schemas.InterpretRequest{FeatureName: "X"})
	require.Error(t, err)
}

func TestVisionResolveClick(t *testing.T) {
	_, cfg := fakeOracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openAIResponse(`{"strategy":"text","selector":"text=Sign In","confidence":"high","reasoning":"visible button"}`))
	})

	oracle := NewVision(cfg, zaptest.NewLogger(t))
	res, err := oracle.Resolve(context.Background(), schemas.ResolveRequest{
		Instruction: "click the Sign In button",
		Action:      schemas.ActionClick,
		Screenshot:  []byte{0xff, 0xd8},
	})
	require.NoError(t, err)
	assert.Equal(t, "text=Sign In", res.PrimarySelector)
	assert.Equal(t, schemas.ConfidenceHigh, res.Confidence)
}

func TestVisionResolveTypeFieldList(t *testing.T) {
	_, cfg := fakeOracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openAIResponse(`{"strategy":"css","selector":"","fields":[
			{"label":"email","selector":"input[name=email]","value":"a@b.com"},
			{"label":"password","selector":"input[type=password]","value":"x"}
		],"confidence":"medium"}`))
	})

	oracle := NewVision(cfg, zaptest.NewLogger(t))
	res, err := oracle.Resolve(context.Background(), schemas.ResolveRequest{
		Instruction: "fill the login form",
		Action:      schemas.ActionType,
		Payload:     schemas.Payload{Fields: map[string]string{"email": "a@b.com", "password": "x"}},
		Screenshot:  []byte{0xff, 0xd8},
	})
	require.NoError(t, err)
	require.Len(t, res.AuxiliaryTargets, 2)
	assert.Equal(t, "input[name=email]", res.PrimarySelector, "primary backfilled from first field")
}

func TestVisionRetriesOnceThenRaisesResolutionError(t *testing.T) {
	var calls atomic.Int32
	_, cfg := fakeOracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, openAIResponse("definitely not json"))
	})

	oracle := NewVision(cfg, zaptest.NewLogger(t))
	_, err := oracle.Resolve(context.Background(), schemas.ResolveRequest{
		Instruction: "click something",
		Action:      schemas.ActionClick,
		Screenshot:  []byte{0xff, 0xd8},
	})

	var resErr *schemas.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, int32(2), calls.Load(), "unparsable output is retried exactly once")
}

func TestVisionRequiresScreenshot(t *testing.T) {
	oracle := NewVision(config.OracleModelConfig{Provider: config.ProviderOpenAI}, zaptest.NewLogger(t))
	_, err := oracle.Resolve(context.Background(), schemas.ResolveRequest{
		Instruction: "click",
		Action:      schemas.ActionClick,
	})
	var resErr *schemas.ResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestVisionUnreachableOracle(t *testing.T) {
	cfg := config.OracleModelConfig{
		Provider:   config.ProviderOpenAI,
		Endpoint:   "http://127.0.0.1:1", // nothing listens here
		APITimeout: time.Second,
	}
	oracle := NewVision(cfg, zaptest.NewLogger(t))
	_, err := oracle.Resolve(context.Background(), schemas.ResolveRequest{
		Instruction: "click",
		Action:      schemas.ActionClick,
		Screenshot:  []byte{1},
	})
	var resErr *schemas.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestValidatePromptFoundDescriptor(t *testing.T) {
	_, cfg := fakeOracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, openAIResponse(`{"found":true,"selector":"","confidence":"high","reasoning":"heading visible"}`))
	})

	oracle := NewVision(cfg, zaptest.NewLogger(t))
	res, err := oracle.Resolve(context.Background(), schemas.ResolveRequest{
		Instruction: "Dashboard",
		Action:      schemas.ActionValidate,
		Screenshot:  []byte{1},
	})
	require.NoError(t, err)
	assert.True(t, res.Found)
}
