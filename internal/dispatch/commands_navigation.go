package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/helmsman-dev/helmsman/internal/engine"
	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/scheduler"
	"github.com/helmsman-dev/helmsman/internal/view"
)

func waitConditionOf(s string) engine.WaitCondition {
	switch s {
	case "domcontentloaded":
		return engine.WaitDOMContentLoaded
	case "networkidle":
		return engine.WaitNetworkIdle
	default:
		return engine.WaitLoad
	}
}

func navigateResultData(r engine.NavigateResult) map[string]any {
	return map[string]any{"url": r.FinalURL, "status_code": r.StatusCode, "title": r.Title}
}

// registerNavigationCommands wires the navigation family of spec §6
// (navigate, reload, back, forward, get_url, get_page_state,
// get_content, wait_for_element, execute_script, navigate_batch) to
// the scheduler (C6) for admission-gated navigations, and directly to
// the engine adapter for read-only/script operations that don't need
// admission control.
func registerNavigationCommands(r *Registry, d *Deps) {
	r.Register(CommandSpec{
		Name:         "navigate",
		Mutating:     true,
		RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema: Schema{Fields: []Field{
			{Name: "url", Type: TypeString, Required: true},
			{Name: "wait_condition", Type: TypeString, Enum: []string{"load", "domcontentloaded", "networkidle"}},
			{Name: "timeout_ms", Type: TypeNumber, Min: floatPtr(0)},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			intent := scheduler.NavigationIntent{
				ID:      uuid.NewString(),
				ViewID:  call.View.ID(),
				URL:     str(call.Params, "url"),
				Wait:    waitConditionOf(str(call.Params, "wait_condition")),
				Timeout: timeoutOf(call.Params),
			}
			res, err := d.Scheduler.Navigate(ctx, intent)
			if err != nil {
				return nil, err
			}
			return navigateResultData(res), nil
		},
	})

	r.Register(CommandSpec{
		Name:         "navigate_batch",
		Mutating:     true,
		Schema: Schema{Fields: []Field{
			{Name: "intents", Type: TypeArray, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			raw, _ := call.Params["intents"].([]any)
			results := make([]map[string]any, len(raw))
			for i, item := range raw {
				obj, _ := item.(map[string]any)
				intent := scheduler.NavigationIntent{
					ID:      uuid.NewString(),
					ViewID:  str(obj, "view_id"),
					URL:     str(obj, "url"),
					Wait:    waitConditionOf(str(obj, "wait_condition")),
					Timeout: timeoutOf(obj),
				}
				res, err := d.Scheduler.Navigate(ctx, intent)
				if err != nil {
					e := errs.As(err)
					results[i] = map[string]any{"view_id": intent.ViewID, "success": false, "error_kind": string(e.Kind), "message": e.Message}
					continue
				}
				results[i] = map[string]any{"view_id": intent.ViewID, "success": true, "result": navigateResultData(res)}
			}
			return map[string]any{"results": results}, nil
		},
	})

	r.Register(CommandSpec{
		Name:         "reload",
		Mutating:     true,
		RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			res, err := d.Scheduler.Navigate(ctx, scheduler.NavigationIntent{
				ID: uuid.NewString(), ViewID: call.View.ID(), URL: call.View.CurrentURL(),
			})
			if err != nil {
				return nil, err
			}
			return navigateResultData(res), nil
		},
	})

	r.Register(CommandSpec{
		Name:         "back",
		Mutating:     true,
		RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			hist, idx := call.View.History()
			if idx <= 0 {
				return nil, errs.New(errs.InvalidState, "no earlier history entry")
			}
			res, err := d.Scheduler.Navigate(ctx, scheduler.NavigationIntent{ID: uuid.NewString(), ViewID: call.View.ID(), URL: hist[idx-1]})
			if err != nil {
				return nil, err
			}
			return navigateResultData(res), nil
		},
	})

	r.Register(CommandSpec{
		Name:         "forward",
		Mutating:     true,
		RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			hist, idx := call.View.History()
			if idx+1 >= len(hist) {
				return nil, errs.New(errs.InvalidState, "no later history entry")
			}
			res, err := d.Scheduler.Navigate(ctx, scheduler.NavigationIntent{ID: uuid.NewString(), ViewID: call.View.ID(), URL: hist[idx+1]})
			if err != nil {
				return nil, err
			}
			return navigateResultData(res), nil
		},
	})

	r.Register(CommandSpec{
		Name:         "get_url",
		Retryable:    true,
		RequiresView: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return map[string]any{"url": call.View.CurrentURL()}, nil
		},
	})

	r.Register(CommandSpec{
		Name:         "get_page_state",
		Retryable:    true,
		RequiresView: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return call.View.Snapshot(), nil
		},
	})

	r.Register(CommandSpec{
		Name:         "get_content",
		Retryable:    true,
		RequiresView: true,
		Handler: func(ctx context.Context, call *Call) (any, error) {
			h, err := d.handleFor(ctx, call.View.ID())
			if err != nil {
				return nil, errs.Wrap(errs.EngineError, "no engine handle for view", err)
			}
			res, err := d.Adapter.Evaluate(ctx, h, "document.documentElement.outerHTML", timeoutOf(call.Params))
			if err != nil {
				return nil, errs.Wrap(errs.EngineError, "get_content failed", err)
			}
			return map[string]any{"html": string(res.ValueJSON)}, nil
		},
	})

	r.Register(CommandSpec{
		Name:         "wait_for_element",
		Mutating:     true,
		RequiresView: true,
		Schema: Schema{Fields: []Field{
			{Name: "selector", Type: TypeString, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			h, err := d.handleFor(ctx, call.View.ID())
			if err != nil {
				return nil, errs.Wrap(errs.EngineError, "no engine handle for view", err)
			}
			script := "!!document.querySelector(" + jsString(str(call.Params, "selector")) + ")"
			res, err := d.Adapter.Evaluate(ctx, h, script, timeoutOf(call.Params))
			if err != nil {
				return nil, errs.Wrap(errs.EngineError, "wait_for_element failed", err)
			}
			return map[string]any{"found": string(res.ValueJSON) == "true"}, nil
		},
	})

	r.Register(CommandSpec{
		Name:         "execute_script",
		Mutating:     true,
		RequiresView: true,
		Schema: Schema{Fields: []Field{
			{Name: "script", Type: TypeString, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			h, err := d.handleFor(ctx, call.View.ID())
			if err != nil {
				return nil, errs.Wrap(errs.EngineError, "no engine handle for view", err)
			}
			res, err := d.Adapter.Evaluate(ctx, h, str(call.Params, "script"), timeoutOf(call.Params))
			if err != nil {
				return nil, errs.Wrap(errs.EngineError, "execute_script failed", err)
			}
			return map[string]any{"value": string(res.ValueJSON)}, nil
		},
	})
}
