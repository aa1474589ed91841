package dispatch

import (
	"context"

	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/evasion"
	"github.com/helmsman-dev/helmsman/internal/session"
)

func applyRoute(d *Deps, call *Call, binding session.RouteBinding) (any, error) {
	sess, err := sessionFor(d, call)
	if err != nil {
		return nil, err
	}
	if err := evasion.ValidateOnionAtCreation(sess.ProxyBinding(), binding, true); err != nil {
		return nil, err
	}
	if err := d.Evader.ApplyRouteChange(call.View, binding); err != nil {
		return nil, err
	}
	sess.SetProxyBinding(&binding)
	return map[string]any{"route": binding}, nil
}

func registerRouteCommands(r *Registry, d *Deps) {
	r.Register(CommandSpec{
		Name: "set_proxy", Mutating: true, RequiresView: true,
		Schema: Schema{Fields: []Field{
			{Name: "kind", Type: TypeString, Required: true,
				Enum: []string{"Direct", "Http", "Socks5", "TorClearnet", "TorOnion"}},
			{Name: "endpoint", Type: TypeString},
			{Name: "credentials", Type: TypeString},
			{Name: "isolation_tag", Type: TypeString},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return applyRoute(d, call, session.RouteBinding{
				Kind:         session.RouteKind(str(call.Params, "kind")),
				Endpoint:     str(call.Params, "endpoint"),
				Credentials:  str(call.Params, "credentials"),
				IsolationTag: str(call.Params, "isolation_tag"),
			})
		},
	})

	r.Register(CommandSpec{
		Name: "clear_proxy", Mutating: true, RequiresView: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return applyRoute(d, call, session.RouteBinding{Kind: session.RouteDirect})
		},
	})

	r.Register(CommandSpec{
		Name: "tor_enable", Mutating: true, RequiresView: true,
		Schema: Schema{Fields: []Field{
			{Name: "onion", Type: TypeBool},
			{Name: "endpoint", Type: TypeString},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			onion, _ := call.Params["onion"].(bool)
			kind := session.RouteTorClearnet
			if onion {
				kind = session.RouteTorOnion
			}
			return applyRoute(d, call, session.RouteBinding{
				Kind: kind, Endpoint: str(call.Params, "endpoint"),
			})
		},
	})

	r.Register(CommandSpec{
		Name: "tor_disable", Mutating: true, RequiresView: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sess, err := sessionFor(d, call)
			if err != nil {
				return nil, err
			}
			if rb := sess.ProxyBinding(); rb != nil && rb.Kind == session.RouteTorOnion {
				return nil, errs.New(errs.InvalidState, "a TorOnion-routed view cannot drop Tor; destroy and recreate it instead").
					WithRecovery("destroy and recreate the view without onion routing", "destroy_view")
			}
			return applyRoute(d, call, session.RouteBinding{Kind: session.RouteDirect})
		},
	})

	r.Register(CommandSpec{
		Name: "tor_new_identity", Mutating: true, RequiresView: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sess, err := sessionFor(d, call)
			if err != nil {
				return nil, err
			}
			rb := sess.ProxyBinding()
			if rb == nil || (rb.Kind != session.RouteTorClearnet && rb.Kind != session.RouteTorOnion) {
				return nil, errs.New(errs.InvalidState, "tor_new_identity requires an active Tor route")
			}
			if rb.Kind == session.RouteTorOnion {
				return nil, errs.New(errs.InvalidState, "a TorOnion circuit's identity is fixed at view creation").
					WithRecovery("destroy and recreate the view for a new onion identity", "destroy_view")
			}
			fresh := *rb
			fresh.IsolationTag = call.View.ID() + ":" + call.Request.ID
			return applyRoute(d, call, fresh)
		},
	})
}
