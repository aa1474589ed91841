// Package session implements the Session/Profile Store (spec C3): the
// persistent per-identity bundle of cookies, storage, user agent,
// fingerprint seed, and proxy binding, plus the deterministic
// FingerprintProfile and BehaviorProfile derivations used by the
// Evasion Policy Engine (C7).
package session

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// FingerprintProfile is the deterministic spoofing bundle derived from
// a seed (spec §3 data model). Equal seeds produce equal profiles —
// this is the reproducibility invariant tested by §8's round-trip law.
type FingerprintProfile struct {
	Seed                string            `json:"seed"`
	Platform            string            `json:"platform"`
	TimezoneName        string            `json:"timezone_name"`
	TimezoneOffsetMin   int               `json:"timezone_offset_min"`
	Languages           []string          `json:"languages"`
	WebGLVendor         string            `json:"webgl_vendor"`
	WebGLRenderer       string            `json:"webgl_renderer"`
	CanvasNoise         int               `json:"canvas_noise"`
	AudioNoiseAmplitude float64           `json:"audio_noise_amplitude"`
	ScreenWidth         int               `json:"screen_width"`
	ScreenHeight        int               `json:"screen_height"`
	HardwareConcurrency int               `json:"hardware_concurrency"`
	DeviceMemoryGB      int               `json:"device_memory_gb"`
	Plugins             []string          `json:"plugins"`
	MimeTypes           []string          `json:"mime_types"`
}

var platforms = []string{"Win32", "MacIntel", "Linux x86_64"}
var timezones = []struct {
	name      string
	offsetMin int
}{
	{"America/New_York", -300}, {"America/Los_Angeles", -480}, {"Europe/London", 0},
	{"Europe/Berlin", 60}, {"Asia/Tokyo", 540}, {"Australia/Sydney", 660},
}
var languagePools = [][]string{
	{"en-US", "en"}, {"en-GB", "en"}, {"de-DE", "de", "en"}, {"fr-FR", "fr", "en"}, {"ja-JP", "ja", "en"},
}
var webglVendors = []struct{ vendor, renderer string }{
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620, OpenGL 4.5)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1050/PCIe/SSE2, OpenGL 4.5)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580, OpenGL 4.5)"},
	{"Apple Inc.", "Apple M1"},
}
var screenGeometries = [][2]int{{1920, 1080}, {1366, 768}, {2560, 1440}, {1440, 900}, {3840, 2160}}
var commonPlugins = []string{"PDF Viewer", "Chrome PDF Viewer", "Chromium PDF Viewer", "Native Client"}
var commonMimeTypes = []string{"application/pdf", "text/pdf"}

// seededRNG derives a deterministic rand.Rand from an arbitrary seed
// string via SHA-256, so that equal string seeds always yield equal
// streams regardless of platform int size.
func seededRNG(seed string) *rand.Rand {
	sum := sha256.Sum256([]byte(seed))
	s1 := binary.BigEndian.Uint64(sum[0:8])
	s2 := binary.BigEndian.Uint64(sum[8:16])
	return rand.New(rand.NewPCG(s1, s2))
}

// DeriveFingerprintProfile builds the full spoofing bundle for seed.
// Calling this twice with the same seed returns an equal profile —
// the round-trip law of spec §8.
func DeriveFingerprintProfile(seed string) FingerprintProfile {
	r := seededRNG(seed)

	tz := timezones[r.IntN(len(timezones))]
	langs := languagePools[r.IntN(len(languagePools))]
	gpu := webglVendors[r.IntN(len(webglVendors))]
	geo := screenGeometries[r.IntN(len(screenGeometries))]

	concurrency := []int{2, 4, 6, 8, 12, 16}[r.IntN(6)]
	memory := []int{2, 4, 8, 16}[r.IntN(4)]

	return FingerprintProfile{
		Seed:                seed,
		Platform:            platforms[r.IntN(len(platforms))],
		TimezoneName:        tz.name,
		TimezoneOffsetMin:   tz.offsetMin,
		Languages:           append([]string(nil), langs...),
		WebGLVendor:         gpu.vendor,
		WebGLRenderer:       gpu.renderer,
		CanvasNoise:         1 + r.IntN(4), // small per-pixel noise magnitude, spec §3
		AudioNoiseAmplitude: 0.0001 + r.Float64()*0.0009,
		ScreenWidth:         geo[0],
		ScreenHeight:        geo[1],
		HardwareConcurrency: concurrency,
		DeviceMemoryGB:      memory,
		Plugins:             append([]string(nil), commonPlugins...),
		MimeTypes:           append([]string(nil), commonMimeTypes...),
	}
}

// BehaviorProfile parameterizes human-like interaction timing and
// motion (spec §3, §4.6). Seeded per session for reproducible tests;
// production may reseed from a true RNG per call site if desired.
type BehaviorProfile struct {
	Seed                string  `json:"seed"`
	KeyDelayMinMs       int     `json:"key_delay_min_ms"`
	KeyDelayMaxMs       int     `json:"key_delay_max_ms"`
	KeyDelayMeanMs      float64 `json:"key_delay_mean_ms"`
	KeyDelayStdevMs     float64 `json:"key_delay_stdev_ms"`
	TypoRate            float64 `json:"typo_rate"`
	PauseProbability    float64 `json:"pause_probability"`
	MouseCurvature      float64 `json:"mouse_curvature"`
	OvershootProbability float64 `json:"overshoot_probability"`
	ScrollStepMin       int     `json:"scroll_step_min"`
	ScrollStepMax       int     `json:"scroll_step_max"`
}

// DeriveBehaviorProfile builds a deterministic behavior bundle from seed.
func DeriveBehaviorProfile(seed string) BehaviorProfile {
	r := seededRNG(seed + "|behavior")
	return BehaviorProfile{
		Seed:                 seed,
		KeyDelayMinMs:        30 + r.IntN(30),
		KeyDelayMaxMs:        180 + r.IntN(120),
		KeyDelayMeanMs:       80 + r.Float64()*40,
		KeyDelayStdevMs:      15 + r.Float64()*15,
		TypoRate:             0.01 + r.Float64()*0.04,
		PauseProbability:     0.02 + r.Float64()*0.08,
		MouseCurvature:       0.15 + r.Float64()*0.35,
		OvershootProbability: 0.05 + r.Float64()*0.15,
		ScrollStepMin:        40 + r.IntN(40),
		ScrollStepMax:        150 + r.IntN(150),
	}
}

// Equal reports whether two profiles were derived from equal
// attributes (used by tests exercising the reproducibility invariant).
func (f FingerprintProfile) Equal(o FingerprintProfile) bool {
	return fmt.Sprintf("%+v", f) == fmt.Sprintf("%+v", o)
}
