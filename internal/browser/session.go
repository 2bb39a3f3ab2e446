package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
	"github.com/probelight/specdriver/internal/config"
)

// Session drives one isolated browser tab. It implements schemas.Session.
// Ownership is exclusive and sequential: one step in flight at a time, so
// the only locking here protects the background CDP listeners.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	manager *Manager
	id      string
	cfg     config.BrowserConfig
	logger  *zap.Logger

	mu         sync.Mutex
	pageErrors []schemas.PageError
	inflight   map[network.RequestID]struct{}
	lastActive time.Time
}

var _ schemas.Session = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, m *Manager, id string, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	s := &Session{
		ctx:        ctx,
		cancel:     cancel,
		manager:    m,
		id:         id,
		cfg:        cfg,
		logger:     logger.Named("session").With(zap.String("session_id", id)),
		inflight:   make(map[network.RequestID]struct{}),
		lastActive: time.Now(),
	}
	s.setupListeners()
	return s
}

// setupListeners collects console errors, failed requests and the inflight
// request set used by WaitQuiescence.
func (s *Session) setupListeners() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			if ev.Type != runtime.APITypeError {
				return
			}
			var text strings.Builder
			for _, arg := range ev.Args {
				text.Write(arg.Value)
				text.WriteByte(' ')
			}
			s.recordError(schemas.PageError{
				Source:    "console",
				Text:      strings.TrimSpace(text.String()),
				Timestamp: time.Now().UTC(),
			})
		case *runtime.EventExceptionThrown:
			s.recordError(schemas.PageError{
				Source:    "console",
				Text:      ev.ExceptionDetails.Error(),
				Timestamp: time.Now().UTC(),
			})
		case *network.EventRequestWillBeSent:
			s.mu.Lock()
			s.inflight[ev.RequestID] = struct{}{}
			s.lastActive = time.Now()
			s.mu.Unlock()
		case *network.EventLoadingFinished:
			s.settle(ev.RequestID)
		case *network.EventLoadingFailed:
			s.settle(ev.RequestID)
			if !ev.Canceled {
				s.recordError(schemas.PageError{
					Source:    "network",
					Text:      ev.ErrorText,
					Timestamp: time.Now().UTC(),
				})
			}
		case *network.EventResponseReceived:
			if ev.Response.Status >= 400 {
				s.recordError(schemas.PageError{
					Source:    "network",
					Text:      fmt.Sprintf("HTTP %d", ev.Response.Status),
					URL:       ev.Response.URL,
					Timestamp: time.Now().UTC(),
				})
			}
		}
	})
}

func (s *Session) recordError(e schemas.PageError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Keep the tail: a chatty page must not grow the run report unbounded.
	if len(s.pageErrors) >= 200 {
		s.pageErrors = s.pageErrors[1:]
	}
	s.pageErrors = append(s.pageErrors, e)
}

func (s *Session) settle(id network.RequestID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// PageErrors drains the errors collected since the previous call.
func (s *Session) PageErrors() []schemas.PageError {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.pageErrors
	s.pageErrors = nil
	return drained
}

// run executes chromedp actions against this tab under the caller's
// deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// -- selector dialect --
//
// The executor's fallback chains emit selectors in a small dialect:
// plain CSS, `text=...` (visible text match), `role=...` (ARIA role) and
// `xpath=...`. Everything funnels through buildQuery / findScript so the
// two invocation paths (interactive and DOM-bypass) agree on meaning.

func buildQuery(selector string) (string, chromedp.QueryOption) {
	switch {
	case strings.HasPrefix(selector, "xpath="):
		return strings.TrimPrefix(selector, "xpath="), chromedp.BySearch
	case strings.HasPrefix(selector, "text="):
		needle := strings.TrimPrefix(selector, "text=")
		return fmt.Sprintf(`//*[contains(normalize-space(.), %s)][not(.//*[contains(normalize-space(.), %s)])]`,
			xpathLiteral(needle), xpathLiteral(needle)), chromedp.BySearch
	case strings.HasPrefix(selector, "role="):
		return fmt.Sprintf(`[role=%q]`, strings.TrimPrefix(selector, "role=")), chromedp.ByQuery
	default:
		return selector, chromedp.ByQuery
	}
}

// xpathLiteral quotes a string for use inside an XPath expression,
// handling embedded quotes via concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

// findScript returns a JS expression that resolves the selector dialect to
// an element reference, for the DOM-bypass paths.
const findFnJS = `function __sdFind(sel) {
	if (sel.indexOf('xpath=') === 0) {
		return document.evaluate(sel.slice(6), document, null,
			XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	}
	if (sel.indexOf('text=') === 0) {
		const needle = sel.slice(5).trim();
		const walker = document.createTreeWalker(document.body || document.documentElement, NodeFilter.SHOW_ELEMENT);
		let node, partial = null;
		while ((node = walker.nextNode())) {
			const t = (node.innerText || node.value || '').trim();
			if (t === needle) return node;
			if (!partial && t.indexOf(needle) >= 0 && node.children.length === 0) partial = node;
		}
		return partial;
	}
	if (sel.indexOf('role=') === 0) {
		return document.querySelector('[role="' + sel.slice(5) + '"]');
	}
	try { return document.querySelector(sel); } catch (e) { return null; }
}`

func jsString(s string) string {
	out, _ := jsoniter.MarshalToString(s)
	return out
}

// -- schemas.Session implementation --

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	return s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(function(){ %s
		const el = __sdFind(%s);
		if (!el) return false;
		const rects = el.getClientRects();
		return rects.length > 0 && !!(el.offsetParent || el.getClientRects().length);
	})()`, findFnJS, jsString(selector))

	var found bool
	if err := s.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking.", zap.String("selector", selector))
	query, opt := buildQuery(selector)
	return s.run(ctx, chromedp.Click(query, opt, chromedp.NodeVisible))
}

// ClickDOM dispatches the click at the DOM level, bypassing visibility and
// actionability preconditions. Last resort after Click raises.
func (s *Session) ClickDOM(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking via DOM bypass.", zap.String("selector", selector))
	script := fmt.Sprintf(`(function(){ %s
		const el = __sdFind(%s);
		if (!el) return false;
		el.click();
		return true;
	})()`, findFnJS, jsString(selector))

	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("DOM click found no element for %q", selector)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	s.logger.Debug("Filling.", zap.String("selector", selector), zap.Int("length", len(value)))
	query, opt := buildQuery(selector)
	return s.run(ctx,
		chromedp.Focus(query, opt, chromedp.NodeVisible),
		chromedp.SetValue(query, "", opt),
		chromedp.SendKeys(query, value, opt),
	)
}

// FillDOM sets the value directly and synthesizes the input events client
// frameworks listen for.
func (s *Session) FillDOM(ctx context.Context, selector, value string) error {
	s.logger.Debug("Filling via DOM bypass.", zap.String("selector", selector))
	script := fmt.Sprintf(`(function(){ %s
		const el = __sdFind(%s);
		if (!el) return false;
		const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value');
		if (setter && setter.set) { setter.set.call(el, %s); } else { el.value = %s; }
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, findFnJS, jsString(selector), jsString(value), jsString(value))

	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("DOM fill found no element for %q", selector)
	}
	return nil
}

func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	s.logger.Debug("Selecting option.", zap.String("selector", selector), zap.String("value", value))
	query, opt := buildQuery(selector)
	return s.run(ctx, chromedp.SetValue(query, value, opt))
}

func (s *Session) Hover(ctx context.Context, selector string) error {
	s.logger.Debug("Hovering.", zap.String("selector", selector))
	script := fmt.Sprintf(`(function(){ %s
		const el = __sdFind(%s);
		if (!el) return false;
		for (const type of ['mouseover', 'mouseenter', 'mousemove']) {
			el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window}));
		}
		return true;
	})()`, findFnJS, jsString(selector))

	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("hover found no element for %q", selector)
	}
	return nil
}

func (s *Session) Scroll(ctx context.Context, direction string) error {
	s.logger.Debug("Scrolling.", zap.String("direction", direction))
	script := `window.scrollBy(0, window.innerHeight * 0.8);`
	if direction == "up" {
		script = `window.scrollBy(0, -window.innerHeight * 0.8);`
	}
	return s.run(ctx, chromedp.Evaluate(script, nil))
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	query, opt := buildQuery(selector)
	var out string
	if err := s.run(ctx, chromedp.Text(query, &out, opt, chromedp.NodeVisible)); err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *Session) ContainsText(ctx context.Context, needle string) (bool, error) {
	script := fmt.Sprintf(`(function(){
		const body = document.body;
		return !!body && (body.innerText || '').indexOf(%s) >= 0;
	})()`, jsString(needle))

	var found bool
	if err := s.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false, err
	}
	return found, nil
}

// Screenshot captures a compressed JPEG of the viewport. Quality is
// deliberately low: these captures feed the vision oracle and the report,
// where freshness matters and fidelity does not.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	quality := int64(s.cfg.ScreenshotQuality)
	if quality <= 0 {
		quality = 55
	}
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(quality).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Session) DOM(ctx context.Context) (string, error) {
	var dom string
	if err := s.run(ctx, chromedp.OuterHTML("html", &dom, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return dom, nil
}

func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	return s.run(ctx, chromedp.Evaluate(expr, out))
}

// frameworkStableJS asks a client-side framework for its own stability
// signal when one is exposed. Absence is not an error.
const frameworkStableJS = `(function(){
	try {
		if (window.getAllAngularTestabilities) {
			return window.getAllAngularTestabilities().every(t => t.isStable());
		}
	} catch (e) {}
	return true;
})()`

// WaitQuiescence blocks until the network has been idle for a settle
// window and the document is complete, or the bound elapses. A timeout is
// not an error: slow pages still get their chance downstream.
func (s *Session) WaitQuiescence(ctx context.Context, bound time.Duration) error {
	const (
		pollEvery    = 100 * time.Millisecond
		settleWindow = 500 * time.Millisecond
	)
	deadline := time.Now().Add(bound)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.mu.Lock()
		idle := len(s.inflight) == 0 && time.Since(s.lastActive) >= settleWindow
		s.mu.Unlock()

		if idle {
			var ready string
			if err := s.run(ctx, chromedp.Evaluate(`document.readyState`, &ready)); err == nil && ready == "complete" {
				// Best effort: consult the framework's own signal once.
				var stable bool
				if err := s.run(ctx, chromedp.Evaluate(frameworkStableJS, &stable)); err != nil || stable {
					return nil
				}
			}
		}
		time.Sleep(pollEvery)
	}

	s.logger.Debug("Quiescence wait hit its bound, proceeding.", zap.Duration("bound", bound))
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	s.logger.Debug("Closing session.")
	if s.manager != nil {
		s.manager.unregister(s.id)
	}
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
