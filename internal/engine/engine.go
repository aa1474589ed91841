// Package engine defines the uniform capability surface over one web
// view (spec C1): navigate, evaluate, capture, intercept, behind an
// opaque Handle. Concrete adapters (rodengine) implement Adapter.
package engine

import (
	"context"
	"time"
)

// Handle is an opaque engine-side reference to a live page/tab. Only
// the adapter that issued it knows how to resolve it back to a
// concrete browser object.
type Handle interface {
	// String returns a stable debug identifier, never used for equality.
	String() string
}

// WaitCondition controls when Navigate considers a navigation complete.
type WaitCondition string

const (
	WaitLoad            WaitCondition = "load"
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitNetworkIdle     WaitCondition = "networkidle"
)

// NavigateResult carries the observable outcome of a navigation.
type NavigateResult struct {
	FinalURL   string
	StatusCode int
	Title      string
}

// EvaluateResult carries the return value of a script evaluation as
// JSON-encoded bytes, since results may be arbitrary JS values.
type EvaluateResult struct {
	ValueJSON []byte
}

// CaptureKind enumerates what a single capture call produces.
type CaptureKind string

const (
	CaptureScreenshot   CaptureKind = "Screenshot"
	CaptureDOMSnapshot  CaptureKind = "DomSnapshot"
	CaptureHAR          CaptureKind = "Har"
	CaptureConsole      CaptureKind = "Console"
	CaptureCookies      CaptureKind = "Cookies"
	CaptureStorageDump  CaptureKind = "StorageDump"
)

// CaptureResult is one artifact's raw bytes plus a content type hint.
type CaptureResult struct {
	Kind        CaptureKind
	Data        []byte
	ContentType string
}

// InterceptRule matches requests for header/body rewriting or blocking.
type InterceptRule struct {
	URLPattern string
	Block      bool
	SetHeaders map[string]string
}

// Overrides is the evasion engine's pre-navigation action, expressed in
// engine-neutral terms so any Adapter can apply it.
type Overrides struct {
	UserAgent           string
	AcceptLanguage      string
	TimezoneID          string
	Platform            string
	Languages           []string
	ScreenWidth         int
	ScreenHeight        int
	HardwareConcurrency int
	DeviceMemoryGB      int
	WebGLVendor         string
	WebGLRenderer       string
	CanvasNoiseSeed     int64
	AudioNoiseAmplitude float64
	RemovedHeaders      []string
	WebdriverOff        bool
	ProxyURL            string
}

// Adapter is the capability surface every concrete browser backend
// must implement. All methods accept a context for cancellation —
// spec §4.3 requires a cooperative cancel path for admitted intents.
type Adapter interface {
	// NewHandle opens a fresh page/tab and returns its Handle.
	NewHandle(ctx context.Context) (Handle, error)
	// CloseHandle releases all resources associated with h.
	CloseHandle(ctx context.Context, h Handle) error

	// ApplyOverrides installs the evasion pre-navigation action on h.
	// Must be called before Navigate for it to take effect.
	ApplyOverrides(ctx context.Context, h Handle, o Overrides) error

	Navigate(ctx context.Context, h Handle, url string, wait WaitCondition, timeout time.Duration) (NavigateResult, error)
	Evaluate(ctx context.Context, h Handle, script string, timeout time.Duration) (EvaluateResult, error)
	Capture(ctx context.Context, h Handle, kind CaptureKind) (CaptureResult, error)
	SetIntercept(ctx context.Context, h Handle, rules []InterceptRule) error

	// CurrentURL/CurrentTitle report live page state without a navigation.
	CurrentURL(ctx context.Context, h Handle) (string, error)
	CurrentTitle(ctx context.Context, h Handle) (string, error)
}
