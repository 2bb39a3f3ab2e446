package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/config"
	"github.com/probelight/specdriver/internal/mocks"
)

func testCfg() config.ExecutorConfig {
	return config.ExecutorConfig{
		VisionEnabled:      false,
		ElementTimeout:     50 * time.Millisecond,
		QuiescenceTimeout:  10 * time.Millisecond,
		ValidateRetries:    2,
		ValidateRetryDelay: time.Millisecond,
		NavigationTimeout:  time.Second,
	}
}

// allowCapture stubs the evidence collection every step performs.
func allowCapture(session *mocks.MockSession) {
	session.On("Screenshot", mock.Anything).Return([]byte{0xff, 0xd8}, nil).Maybe()
	session.On("PageErrors").Return(nil).Maybe()
	session.On("WaitQuiescence", mock.Anything, mock.Anything).Return(nil).Maybe()
}

func TestClickWalksFallbackChainInOrder(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)

	// Primary selector misses, the text strategy hits.
	session.On("Exists", mock.Anything, "#login").Return(false, nil)
	session.On("Exists", mock.Anything, "text=Login").Return(true, nil)
	session.On("Click", mock.Anything, "text=Login").Return(nil).Once()

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText:   `When I click the "Login" button`,
		Action:         schemas.ActionClick,
		TargetSelector: "#login",
		Description:    "the Login button",
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "text=Login", result.SelectorUsed)
	session.AssertExpectations(t)
}

func TestClickFallsBackToDOMDispatch(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)

	session.On("Exists", mock.Anything, "#submit").Return(true, nil)
	session.On("Click", mock.Anything, "#submit").Return(errors.New("node not clickable")).Once()
	session.On("ClickDOM", mock.Anything, "#submit").Return(nil).Once()

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText:   "When I submit the form",
		Action:         schemas.ActionClick,
		TargetSelector: "#submit",
	})

	require.True(t, result.Success, result.Error)
	session.AssertExpectations(t)
}

func TestClickExhaustedChainReportsElementNotFound(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)
	session.On("Exists", mock.Anything, mock.Anything).Return(false, nil)

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: `When I click the "Missing" button`,
		Action:       schemas.ActionClick,
	})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "no element found")
	session.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
}

func TestTypeFillsEachFieldThroughLabelDerivedSelectors(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)

	session.On("Exists", mock.Anything, `input[name="email"]`).Return(true, nil)
	session.On("Exists", mock.Anything, `input[name="password"]`).Return(true, nil)
	session.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	session.On("Fill", mock.Anything, `input[name="email"]`, "qa@example.com").Return(nil).Once()
	session.On("Fill", mock.Anything, `input[name="password"]`, "hunter2").Return(nil).Once()

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: "When I fill in my credentials",
		Action:       schemas.ActionType,
		Payload: schemas.Payload{Fields: map[string]string{
			"email":    "qa@example.com",
			"password": "hunter2",
		}},
	})

	require.True(t, result.Success, result.Error)
	session.AssertExpectations(t)
}

func TestTypeFallsBackToDOMFill(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)

	session.On("Exists", mock.Anything, `input[name="email"]`).Return(true, nil)
	session.On("Fill", mock.Anything, `input[name="email"]`, "a@b.co").Return(errors.New("not focusable")).Once()
	session.On("FillDOM", mock.Anything, `input[name="email"]`, "a@b.co").Return(nil).Once()

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: "When I fill in the email",
		Action:       schemas.ActionType,
		Payload:      schemas.Payload{Fields: map[string]string{"email": "a@b.co"}},
	})

	require.True(t, result.Success, result.Error)
	session.AssertExpectations(t)
}

func TestValidateExistsPassesOnTextStrategy(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)
	session.On("Exists", mock.Anything, "text=Dashboard").Return(true, nil)

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: `Then I should see "Dashboard"`,
		Action:       schemas.ActionValidate,
		Expectation:  &schemas.Expectation{Kind: schemas.ExpectExists, Expected: "Dashboard"},
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "text=Dashboard", result.SelectorUsed)
}

func TestValidateConsultsVisionOnlyAfterDOMRetries(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)
	session.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	session.On("ContainsText", mock.Anything, "Welcome back").Return(false, nil)

	vision := new(mocks.MockVisionOracle)
	vision.On("Resolve", mock.Anything, mock.MatchedBy(func(req schemas.ResolveRequest) bool {
		return req.Action == schemas.ActionValidate && len(req.Screenshot) > 0
	})).Return(&schemas.Resolution{Found: true, PrimarySelector: ".toast-welcome"}, nil).Once()

	cfg := testCfg()
	cfg.VisionEnabled = true
	exec := New(session, vision, cfg, zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: `Then I should see "Welcome back"`,
		Action:       schemas.ActionValidate,
		Expectation:  &schemas.Expectation{Kind: schemas.ExpectExists, Expected: "Welcome back"},
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, ".toast-welcome", result.SelectorUsed)
	// Both DOM attempts ran before the single vision call.
	session.AssertNumberOfCalls(t, "ContainsText", 2)
	vision.AssertExpectations(t)
}

func TestValidateExistsFailsAfterAllStrategies(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)
	session.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	session.On("ContainsText", mock.Anything, mock.Anything).Return(false, nil)

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: `Then I should see "Gone"`,
		Action:       schemas.ActionValidate,
		Expectation:  &schemas.Expectation{Kind: schemas.ExpectExists, Expected: "Gone"},
	})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, `"Gone"`)
}

func TestValidateEqualsComparesElementText(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)
	session.On("Text", mock.Anything, ".cart-count").Return("3", nil)

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText:   "Then the cart count should be 3",
		Action:         schemas.ActionValidate,
		TargetSelector: ".cart-count",
		Expectation:    &schemas.Expectation{Kind: schemas.ExpectEquals, Expected: "3"},
	})

	require.True(t, result.Success, result.Error)
}

func TestValidateContainsPageWideReportsContainsKind(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)
	session.On("ContainsText", mock.Anything, "Order confirmed").Return(false, nil)

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: `Then the page should contain "Order confirmed"`,
		Action:       schemas.ActionValidate,
		Expectation:  &schemas.Expectation{Kind: schemas.ExpectContains, Expected: "Order confirmed"},
	})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "contains")
	// Text comparison only, no locate chain behind it.
	session.AssertNumberOfCalls(t, "ContainsText", 2)
	session.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
}

func TestNavigateRequiresURL(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: "Given I open the app",
		Action:       schemas.ActionNavigate,
	})

	require.False(t, result.Success)
	session.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
}

func TestNavigatePassesURLFromPayload(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)
	session.On("Navigate", mock.Anything, "https://app.example.com/login").Return(nil).Once()

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: `Given I navigate to "https://app.example.com/login"`,
		Action:       schemas.ActionNavigate,
		Payload:      schemas.Payload{Value: "https://app.example.com/login"},
	})

	require.True(t, result.Success, result.Error)
	session.AssertExpectations(t)
}

func TestUnknownActionFailsTheStep(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)

	exec := New(session, nil, testCfg(), zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: "When something unprecedented happens",
		Action:       schemas.ActionUnknown,
	})

	require.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestVisionFailureDegradesToDeterministicLocate(t *testing.T) {
	session := new(mocks.MockSession)
	allowCapture(session)
	session.On("Exists", mock.Anything, "text=Checkout").Return(true, nil)
	session.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	session.On("Click", mock.Anything, "text=Checkout").Return(nil).Once()

	vision := new(mocks.MockVisionOracle)
	vision.On("Resolve", mock.Anything, mock.Anything).
		Return(nil, &schemas.ResolutionError{Instruction: "x", Err: errors.New("oracle down")})

	cfg := testCfg()
	cfg.VisionEnabled = true
	exec := New(session, vision, cfg, zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText: `When I click "Checkout"`,
		Action:       schemas.ActionClick,
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "text=Checkout", result.SelectorUsed)
}

func TestParseWaitDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseWaitDuration(schemas.Step{OriginalText: "And I wait 3 seconds"}))
	assert.Equal(t, time.Duration(0), parseWaitDuration(schemas.Step{OriginalText: "And I wait for the page to load"}))
}

func TestSlugVariants(t *testing.T) {
	assert.Equal(t, []string{"user-name", "user_name", "username"}, slugVariants("User Name"))
	assert.Equal(t, []string{"email"}, slugVariants("Email"))
	assert.Empty(t, slugVariants("!!!"))
}

func TestCandidateSelectorsPrimaryLeads(t *testing.T) {
	step := schemas.Step{
		OriginalText: `When I click the "Sign In" button`,
		Action:       schemas.ActionClick,
	}
	chain := candidateSelectors(step, "#signin", "")
	require.NotEmpty(t, chain)
	assert.Equal(t, "#signin", chain[0])
	assert.Contains(t, chain, "text=Sign In")
}

func TestCandidateSelectorsTypedVariantsForTextPrimary(t *testing.T) {
	step := schemas.Step{
		OriginalText: `When I click the "Sign In" button`,
		Action:       schemas.ActionClick,
	}

	chain := candidateSelectors(step, "text=Sign In", "")
	assert.Contains(t, chain, `xpath=//button[contains(normalize-space(.), "Sign In")]`)
	assert.Contains(t, chain, `xpath=//*[@role="button"][contains(normalize-space(.), "Sign In")]`)
	assert.Contains(t, chain, `xpath=//a[contains(normalize-space(.), "Sign In")]`)

	// A vision resolution that reports the text strategy triggers the same
	// variants even when its selector carries no text= prefix.
	chain = candidateSelectors(step, `[aria-label="Sign In"]`, "text")
	assert.Contains(t, chain, `xpath=//button[contains(normalize-space(.), "Sign In")]`)

	// A structural primary does not.
	chain = candidateSelectors(step, "#signin", "css")
	for _, sel := range chain {
		assert.NotContains(t, sel, "xpath=//button")
	}
}

func TestCandidateSelectorsGenericCatchAllsTrail(t *testing.T) {
	click := schemas.Step{
		OriginalText: `When I click the "Sign In" button`,
		Action:       schemas.ActionClick,
	}
	chain := candidateSelectors(click, "#signin", "")
	require.GreaterOrEqual(t, len(chain), 3)
	assert.Equal(t, []string{"button", "role=button", "a"}, chain[len(chain)-3:])

	sel := schemas.Step{
		OriginalText: `When I select "March" from the "Month" dropdown`,
		Action:       schemas.ActionSelect,
	}
	chain = candidateSelectors(sel, "", "")
	assert.Contains(t, chain, "select")
	assert.Contains(t, chain, "role=listbox")
	assert.Contains(t, chain, `[class*="dropdown"]`)
}

func TestClickFallsBackToGenericButton(t *testing.T) {
	cfg := testCfg()
	session := new(mocks.MockSession)
	allowCapture(session)

	// Every derived candidate misses; only a bare visible button exists.
	session.On("Exists", mock.Anything, "button").Return(true, nil)
	session.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	session.On("Click", mock.Anything, "button").Return(nil).Once()
	session.On("WaitQuiescence", mock.Anything, mock.Anything).Return(nil)

	exec := New(session, nil, cfg, zaptest.NewLogger(t))
	result := exec.ExecuteStep(context.Background(), schemas.Step{
		OriginalText:   `When I click the "Sign In" button`,
		Action:         schemas.ActionClick,
		TargetSelector: "#does-not-exist",
	})

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "button", result.SelectorUsed)
	session.AssertExpectations(t)
}

func TestXPathStringQuoting(t *testing.T) {
	assert.Equal(t, `"Sign In"`, xpathString("Sign In"))
	assert.Equal(t, `"it's fine"`, xpathString("it's fine"))
	assert.Equal(t, `concat("say ", '"', "hi", '"', "")`, xpathString(`say "hi"`))
}
