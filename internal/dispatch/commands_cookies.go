package dispatch

import (
	"context"

	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/session"
)

func sessionFor(d *Deps, call *Call) (*session.Session, error) {
	return d.Sessions.Get(call.View.SessionID())
}

func registerCookieCommands(r *Registry, d *Deps) {
	r.Register(CommandSpec{
		Name:         "get_cookies",
		Retryable:    true,
		RequiresView: true,
		Schema:       Schema{Fields: []Field{{Name: "host", Type: TypeString}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sess, err := sessionFor(d, call)
			if err != nil {
				return nil, err
			}
			return map[string]any{"cookies": sess.Jar().All(str(call.Params, "host"))}, nil
		},
	})

	r.Register(CommandSpec{
		Name: "set_cookie", Mutating: true, RequiresView: true,
		Schema: Schema{Fields: []Field{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "value", Type: TypeString, Required: true},
			{Name: "host", Type: TypeString, Required: true},
			{Name: "path", Type: TypeString},
			{Name: "secure", Type: TypeBool},
			{Name: "http_only", Type: TypeBool},
			{Name: "same_site", Type: TypeString, Enum: []string{"Strict", "Lax", "None"}},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sess, err := sessionFor(d, call)
			if err != nil {
				return nil, err
			}
			if !sess.AcquireCookieWriteLock(call.View.ID()) {
				return nil, errs.New(errs.Busy, "cookie jar write lock held by another view")
			}
			defer sess.ReleaseCookieWriteLock(call.View.ID())
			secure, _ := call.Params["secure"].(bool)
			httpOnly, _ := call.Params["http_only"].(bool)
			sameSite := str(call.Params, "same_site")
			if sameSite == "" {
				sameSite = "Lax"
			}
			path := str(call.Params, "path")
			if path == "" {
				path = "/"
			}
			sess.Jar().Set(session.Cookie{
				Name: str(call.Params, "name"), Value: str(call.Params, "value"),
				Host: str(call.Params, "host"), Path: path,
				Secure: secure, HTTPOnly: httpOnly, SameSite: sameSite,
			})
			return map[string]any{"set": true}, nil
		},
	})

	r.Register(CommandSpec{
		Name: "clear_cookies", Mutating: true, RequiresView: true,
		Schema: Schema{Fields: []Field{{Name: "host", Type: TypeString}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sess, err := sessionFor(d, call)
			if err != nil {
				return nil, err
			}
			if !sess.AcquireCookieWriteLock(call.View.ID()) {
				return nil, errs.New(errs.Busy, "cookie jar write lock held by another view")
			}
			defer sess.ReleaseCookieWriteLock(call.View.ID())
			sess.Jar().Clear(str(call.Params, "host"))
			return map[string]any{"cleared": true}, nil
		},
	})

	r.Register(CommandSpec{
		Name:         "export_cookies",
		Retryable:    true,
		RequiresView: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sess, err := sessionFor(d, call)
			if err != nil {
				return nil, err
			}
			return map[string]any{"cookies": sess.Jar().Export()}, nil
		},
	})

	r.Register(CommandSpec{
		Name: "import_cookies", Mutating: true, RequiresView: true,
		Schema: Schema{Fields: []Field{
			{Name: "cookies", Type: TypeArray, Required: true},
			{Name: "mode", Type: TypeString, Enum: []string{"replace", "merge", "update"}},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			sess, err := sessionFor(d, call)
			if err != nil {
				return nil, err
			}
			if !sess.AcquireCookieWriteLock(call.View.ID()) {
				return nil, errs.New(errs.Busy, "cookie jar write lock held by another view")
			}
			defer sess.ReleaseCookieWriteLock(call.View.ID())

			raw, _ := call.Params["cookies"].([]any)
			cookies := make([]session.Cookie, 0, len(raw))
			for _, item := range raw {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				secure, _ := obj["secure"].(bool)
				httpOnly, _ := obj["http_only"].(bool)
				cookies = append(cookies, session.Cookie{
					Name: str(obj, "name"), Value: str(obj, "value"), Host: str(obj, "host"),
					Path: str(obj, "path"), Secure: secure, HTTPOnly: httpOnly, SameSite: str(obj, "same_site"),
				})
			}
			mode := session.ImportMode(str(call.Params, "mode"))
			if mode == "" {
				mode = session.ImportMerge
			}
			sess.Jar().Import(cookies, mode)
			return map[string]any{"imported": len(cookies)}, nil
		},
	})
}
