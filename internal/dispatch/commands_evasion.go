package dispatch

import (
	"context"

	"github.com/helmsman-dev/helmsman/internal/session"
)

func registerEvasionCommands(r *Registry, d *Deps) {
	r.Register(CommandSpec{
		Name:      "create_fingerprint_profile",
		Retryable: true,
		Schema:    Schema{Fields: []Field{{Name: "seed", Type: TypeString}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			seed := str(call.Params, "seed")
			fp := session.DeriveFingerprintProfile(seed)
			return map[string]any{"seed": seed, "fingerprint": fp}, nil
		},
	})

	r.Register(CommandSpec{
		Name: "apply_fingerprint", Mutating: true, RequiresView: true,
		Schema: Schema{Fields: []Field{{Name: "seed", Type: TypeString, Required: true}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sess, err := sessionFor(d, call)
			if err != nil {
				return nil, err
			}
			fp := d.Evader.PreNavigationActionFor(call.View, sess)
			call.View.SetEvasionProfile(str(call.Params, "seed"))
			return map[string]any{
				"fingerprint":   fp.Fingerprint,
				"headers":       fp.Headers,
				"webdriver_off": fp.WebdriverOff,
			}, nil
		},
	})

	r.Register(CommandSpec{
		Name:      "create_behavioral_profile",
		Retryable: true,
		Schema:    Schema{Fields: []Field{{Name: "seed", Type: TypeString}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			seed := str(call.Params, "seed")
			bp := session.DeriveBehaviorProfile(seed)
			return map[string]any{"seed": seed, "behavior": bp}, nil
		},
	})
}
