package dispatch

import (
	"context"
	"time"

	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/evasion"
	"github.com/helmsman-dev/helmsman/internal/resource"
	"github.com/helmsman-dev/helmsman/internal/session"
	"github.com/helmsman-dev/helmsman/internal/view"
)

func str(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func strSlice(params map[string]any, key string) []string {
	raw, _ := params[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// registerCoreCommands wires the meta, session, and view-management
// commands of spec §6: ping/status/authenticate, create_session/
// list_sessions, create_view/destroy_view/list_views/switch_view.
func registerCoreCommands(r *Registry, d *Deps) {
	r.Register(CommandSpec{
		Name:     "ping",
		Retryable: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return map[string]any{"pong": true, "time": time.Now().UTC().Format(time.RFC3339)}, nil
		},
	})

	r.Register(CommandSpec{
		Name:      "status",
		Retryable: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return map[string]any{
				"views": len(d.Views.List()),
			}, nil
		},
	})

	r.Register(CommandSpec{
		Name:      "get_manager_status",
		Retryable: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			health := resource.HealthOK
			tripped := false
			var samples []resource.Sample
			if d.Monitor != nil {
				health = d.Monitor.Health()
				tripped = d.Monitor.ActionTripped()
				samples = d.Monitor.Samples()
			}
			return map[string]any{
				"resource_health":  string(health),
				"action_tripped":   tripped,
				"recent_samples":   samples,
				"views_live":       d.Views.Count(),
				"views_navigating": d.Views.CountInState(view.StateNavigating),
			}, nil
		},
	})

	r.Register(CommandSpec{
		Name: "authenticate",
		Schema: Schema{Fields: []Field{
			{Name: "token", Type: TypeString, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			principal, err := d.Auth.Authenticate(str(call.Params, "token"))
			if err != nil {
				return nil, errs.New(errs.AuthError, err.Error())
			}
			return map[string]any{"principal": principal}, nil
		},
	})

	r.Register(CommandSpec{
		Name:     "create_session",
		Mutating: true,
		Schema: Schema{Fields: []Field{
			{Name: "display_name", Type: TypeString},
			{Name: "user_agent", Type: TypeString},
			{Name: "fingerprint_seed", Type: TypeString},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sess, err := d.Sessions.Create(str(call.Params, "display_name"), str(call.Params, "user_agent"), str(call.Params, "fingerprint_seed"))
			if err != nil {
				return nil, errs.Wrap(errs.InternalError, "failed to create session", err)
			}
			return map[string]any{"session_id": sess.ID()}, nil
		},
	})

	r.Register(CommandSpec{
		Name:      "list_sessions",
		Retryable: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return map[string]any{"session_ids": d.Sessions.List()}, nil
		},
	})

	r.Register(CommandSpec{
		Name:     "create_view",
		Mutating: true,
		Schema: Schema{Fields: []Field{
			{Name: "session_id", Type: TypeString, Required: true},
			// route_kind lets a caller request TorOnion routing, which
			// spec §4.6 permits only at view creation — every other
			// route command (set_proxy, tor_enable) runs against an
			// already-created view and so can never choose TorOnion.
			{Name: "route_kind", Type: TypeString,
				Enum: []string{"Direct", "Http", "Socks5", "TorClearnet", "TorOnion"}},
			{Name: "route_endpoint", Type: TypeString},
			{Name: "route_credentials", Type: TypeString},
			{Name: "route_isolation_tag", Type: TypeString},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sessID := str(call.Params, "session_id")
			sess, err := d.Sessions.Get(sessID)
			if err != nil {
				return nil, err
			}

			var binding *session.RouteBinding
			if kind := str(call.Params, "route_kind"); kind != "" {
				b := session.RouteBinding{
					Kind:         session.RouteKind(kind),
					Endpoint:     str(call.Params, "route_endpoint"),
					Credentials:  str(call.Params, "route_credentials"),
					IsolationTag: str(call.Params, "route_isolation_tag"),
				}
				if err := evasion.ValidateOnionAtCreation(sess.ProxyBinding(), b, false); err != nil {
					return nil, err
				}
				binding = &b
			}

			v, err := d.Views.Create(sessID)
			if err != nil {
				return nil, err
			}
			if err := v.BeginCommand("create-"+v.ID(), "create_view", view.StateIdle); err != nil {
				return nil, err
			}
			v.EndCommand()
			if binding != nil {
				if err := d.Evader.ApplyRouteChange(v, *binding); err != nil {
					return nil, err
				}
				sess.SetProxyBinding(binding)
			}
			if d.Monitor != nil {
				d.Monitor.NoteViewCreated()
			}
			return map[string]any{"view_id": v.ID(), "route": binding}, nil
		},
	})

	r.Register(CommandSpec{
		Name:         "destroy_view",
		Mutating:     true,
		RequiresView: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			viewID := call.View.ID()
			err := d.Views.Destroy(viewID, func(v *view.View) {
				if h, ok := d.dropHandle(viewID); ok {
					_ = d.Adapter.CloseHandle(ctx, h)
				}
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"destroyed": true}, nil
		},
	})

	r.Register(CommandSpec{
		Name:      "list_views",
		Retryable: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return map[string]any{"views": d.Views.List()}, nil
		},
	})

	r.Register(CommandSpec{
		Name:     "switch_view",
		Mutating: true,
		Schema: Schema{Fields: []Field{
			{Name: "view_id", Type: TypeString, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			viewID := str(call.Params, "view_id")
			if _, err := d.Views.Get(viewID); err != nil {
				return nil, err
			}
			d.SetActiveView(call.Conn, viewID)
			return map[string]any{"active_view": viewID}, nil
		},
	})
}
