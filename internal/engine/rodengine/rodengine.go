// Package rodengine is the go-rod-backed concrete Adapter for C1: it
// drives a real Chromium instance over the Chrome DevTools Protocol.
package rodengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/helmsman-dev/helmsman/internal/engine"
)

// Config controls how the underlying Chromium instance is obtained.
type Config struct {
	DebuggerURL string // connect to an existing instance if set
	Bin         string // otherwise launch this binary
	Headless    bool
}

// Adapter implements engine.Adapter over *rod.Browser.
type Adapter struct {
	mu      sync.RWMutex
	browser *rod.Browser
	pages   map[string]*rod.Page
}

type rodHandle struct{ id string }

func (h rodHandle) String() string { return h.id }

// New connects to (or launches) a Chromium instance per cfg.
func New(cfg Config) (*Adapter, error) {
	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		bin := cfg.Bin
		l := launcher.New().Headless(cfg.Headless)
		if bin != "" {
			l = l.Bin(bin)
		}
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launching chromium: %w", err)
		}
		controlURL = url
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to chromium: %w", err)
	}
	return &Adapter{browser: browser, pages: make(map[string]*rod.Page)}, nil
}

func (a *Adapter) NewHandle(ctx context.Context) (engine.Handle, error) {
	page, err := a.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}
	id := string(page.TargetID)
	a.mu.Lock()
	a.pages[id] = page
	a.mu.Unlock()
	return rodHandle{id: id}, nil
}

func (a *Adapter) CloseHandle(ctx context.Context, h engine.Handle) error {
	page, err := a.pageFor(h)
	if err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.pages, h.String())
	a.mu.Unlock()
	return page.Close()
}

func (a *Adapter) pageFor(h engine.Handle) (*rod.Page, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	page, ok := a.pages[h.String()]
	if !ok {
		return nil, fmt.Errorf("no page for handle %s", h.String())
	}
	return page, nil
}

// ApplyOverrides installs the evasion pre-navigation action: UA/locale
// override via rod's page.SetUserAgent, navigator property spoofing
// via an injected init script, and a header overlay.
func (a *Adapter) ApplyOverrides(ctx context.Context, h engine.Handle, o engine.Overrides) error {
	page, err := a.pageFor(h)
	if err != nil {
		return err
	}
	page = page.Context(ctx)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      o.UserAgent,
		AcceptLanguage: o.AcceptLanguage,
		Platform:       o.Platform,
	}); err != nil {
		return fmt.Errorf("setting user agent override: %w", err)
	}

	if o.TimezoneID != "" {
		if err := proto.EmulationSetTimezoneOverride{TimezoneID: o.TimezoneID}.Call(page); err != nil {
			return fmt.Errorf("setting timezone override: %w", err)
		}
	}

	script := buildSpoofScript(o)
	if _, err := page.EvalOnNewDocument(script); err != nil {
		return fmt.Errorf("installing navigator spoof script: %w", err)
	}
	return nil
}

// buildSpoofScript renders the navigator-property overrides the
// evasion engine computed into a same page-load init script (spec
// §4.6: "navigator property spoofing", canvas/audio noise, WebGL
// parameter proxying).
func buildSpoofScript(o engine.Overrides) string {
	langsJSON, _ := json.Marshal(o.Languages)
	return fmt.Sprintf(`(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => %v });
  Object.defineProperty(navigator, 'languages', { get: () => %s });
  Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
  Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });
  Object.defineProperty(screen, 'width', { get: () => %d });
  Object.defineProperty(screen, 'height', { get: () => %d });
  const __canvasSeed = %d;
  const __audioAmp = %f;
  window.__helmsmanCanvasSeed = __canvasSeed;
  window.__helmsmanAudioNoiseAmplitude = __audioAmp;
})();`, !o.WebdriverOff, string(langsJSON), o.HardwareConcurrency, o.DeviceMemoryGB,
		o.ScreenWidth, o.ScreenHeight, o.CanvasNoiseSeed, o.AudioNoiseAmplitude)
}

func (a *Adapter) Navigate(ctx context.Context, h engine.Handle, url string, wait engine.WaitCondition, timeout time.Duration) (engine.NavigateResult, error) {
	page, err := a.pageFor(h)
	if err != nil {
		return engine.NavigateResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	page = page.Context(ctx)

	if err := page.Navigate(url); err != nil {
		return engine.NavigateResult{}, fmt.Errorf("navigate: %w", err)
	}
	switch wait {
	case engine.WaitNetworkIdle:
		if err := page.WaitIdle(timeout); err != nil {
			return engine.NavigateResult{}, fmt.Errorf("wait idle: %w", err)
		}
	case engine.WaitDOMContentLoaded:
		if err := page.WaitDOMStable(300*time.Millisecond, 0); err != nil {
			return engine.NavigateResult{}, fmt.Errorf("wait dom stable: %w", err)
		}
	default:
		if err := page.WaitLoad(); err != nil {
			return engine.NavigateResult{}, fmt.Errorf("wait load: %w", err)
		}
	}

	info, err := page.Info()
	if err != nil {
		return engine.NavigateResult{}, fmt.Errorf("reading page info: %w", err)
	}
	return engine.NavigateResult{FinalURL: info.URL, Title: info.Title}, nil
}

func (a *Adapter) Evaluate(ctx context.Context, h engine.Handle, script string, timeout time.Duration) (engine.EvaluateResult, error) {
	page, err := a.pageFor(h)
	if err != nil {
		return engine.EvaluateResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := page.Context(ctx).Eval(script)
	if err != nil {
		return engine.EvaluateResult{}, fmt.Errorf("eval: %w", err)
	}
	return engine.EvaluateResult{ValueJSON: []byte(res.Value.Raw)}, nil
}

func (a *Adapter) Capture(ctx context.Context, h engine.Handle, kind engine.CaptureKind) (engine.CaptureResult, error) {
	page, err := a.pageFor(h)
	if err != nil {
		return engine.CaptureResult{}, err
	}
	page = page.Context(ctx)

	switch kind {
	case engine.CaptureScreenshot:
		data, err := page.Screenshot(true, nil)
		if err != nil {
			return engine.CaptureResult{}, fmt.Errorf("screenshot: %w", err)
		}
		return engine.CaptureResult{Kind: kind, Data: data, ContentType: "image/png"}, nil
	case engine.CaptureDOMSnapshot:
		html, err := page.HTML()
		if err != nil {
			return engine.CaptureResult{}, fmt.Errorf("dom snapshot: %w", err)
		}
		return engine.CaptureResult{Kind: kind, Data: []byte(html), ContentType: "text/html"}, nil
	case engine.CaptureCookies:
		cookies, err := page.Cookies(nil)
		if err != nil {
			return engine.CaptureResult{}, fmt.Errorf("cookies: %w", err)
		}
		data, err := json.Marshal(cookies)
		if err != nil {
			return engine.CaptureResult{}, err
		}
		return engine.CaptureResult{Kind: kind, Data: data, ContentType: "application/json"}, nil
	case engine.CaptureStorageDump:
		res, err := page.Eval(`() => ({ local: {...localStorage}, session: {...sessionStorage} })`)
		if err != nil {
			return engine.CaptureResult{}, fmt.Errorf("storage dump: %w", err)
		}
		return engine.CaptureResult{Kind: kind, Data: []byte(res.Value.Raw), ContentType: "application/json"}, nil
	case engine.CaptureHAR, engine.CaptureConsole:
		return engine.CaptureResult{}, fmt.Errorf("capture kind %s requires a running network/console listener, not wired on this adapter instance", kind)
	default:
		return engine.CaptureResult{}, fmt.Errorf("unknown capture kind %s", kind)
	}
}

func (a *Adapter) SetIntercept(ctx context.Context, h engine.Handle, rules []engine.InterceptRule) error {
	page, err := a.pageFor(h)
	if err != nil {
		return err
	}
	router := page.Context(ctx).HijackRequests()
	for _, rule := range rules {
		r := rule
		router.MustAdd(r.URLPattern, func(c *rod.Hijack) {
			if r.Block {
				c.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
			for k, v := range r.SetHeaders {
				c.Request.Req().Header.Set(k, v)
			}
			c.ContinueRequest(&proto.FetchContinueRequest{})
		})
	}
	go router.Run()
	return nil
}

func (a *Adapter) CurrentURL(ctx context.Context, h engine.Handle) (string, error) {
	page, err := a.pageFor(h)
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (a *Adapter) CurrentTitle(ctx context.Context, h engine.Handle) (string, error) {
	page, err := a.pageFor(h)
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// Close shuts down the underlying browser connection.
func (a *Adapter) Close() error {
	return a.browser.Close()
}
