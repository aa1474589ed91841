package dispatch

import (
	"context"
	"fmt"

	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/view"
)

// interact wraps one interaction command: transitions the view to
// Interacting, evaluates script against the bound engine handle, and
// returns to Idle (spec §4.2: "Idle -> Interacting on click/fill/
// scroll/type/script-eval; returns to Idle on handler completion").
func interact(ctx context.Context, d *Deps, call *Call, commandName, script string) (any, error) {
	if err := call.View.BeginCommand(call.Request.ID, commandName, view.StateInteracting); err != nil {
		return nil, err
	}
	defer call.View.EndCommand()

	h, err := d.handleFor(ctx, call.View.ID())
	if err != nil {
		return nil, errs.Wrap(errs.EngineError, "no engine handle for view", err)
	}
	res, err := d.Adapter.Evaluate(ctx, h, script, timeoutOf(call.Params))
	if err != nil {
		return nil, errs.Wrap(errs.EngineError, commandName+" failed", err)
	}
	return map[string]any{"value": string(res.ValueJSON)}, nil
}

func registerInteractionCommands(r *Registry, d *Deps) {
	r.Register(CommandSpec{
		Name: "click", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema:        Schema{Fields: []Field{{Name: "selector", Type: TypeString, Required: true}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			script := fmt.Sprintf("document.querySelector(%s).click()", jsString(str(call.Params, "selector")))
			return interact(ctx, d, call, "click", script)
		},
	})

	r.Register(CommandSpec{
		Name: "fill", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema: Schema{Fields: []Field{
			{Name: "selector", Type: TypeString, Required: true},
			{Name: "value", Type: TypeString, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			script := fmt.Sprintf(
				"(function(){var e=document.querySelector(%s);e.value=%s;e.dispatchEvent(new Event('input',{bubbles:true}));e.dispatchEvent(new Event('change',{bubbles:true}));})()",
				jsString(str(call.Params, "selector")), jsString(str(call.Params, "value")))
			return interact(ctx, d, call, "fill", script)
		},
	})

	r.Register(CommandSpec{
		Name: "type", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema: Schema{Fields: []Field{
			{Name: "selector", Type: TypeString, Required: true},
			{Name: "text", Type: TypeString, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			// Behavioral timing (inter-key delay, typo-insert-then-backspace)
			// is the evasion engine's concern (C7); this handler issues the
			// resulting keystrokes as a single evaluated batch.
			script := fmt.Sprintf(
				"(function(){var e=document.querySelector(%s);e.focus();document.execCommand('insertText',false,%s);})()",
				jsString(str(call.Params, "selector")), jsString(str(call.Params, "text")))
			return interact(ctx, d, call, "type", script)
		},
	})

	r.Register(CommandSpec{
		Name: "scroll", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema: Schema{Fields: []Field{
			{Name: "dx", Type: TypeNumber},
			{Name: "dy", Type: TypeNumber},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			dx, _ := call.Params["dx"].(float64)
			dy, _ := call.Params["dy"].(float64)
			script := fmt.Sprintf("window.scrollBy(%v,%v)", dx, dy)
			return interact(ctx, d, call, "scroll", script)
		},
	})

	r.Register(CommandSpec{
		Name: "mouse_move", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema: Schema{Fields: []Field{
			{Name: "x", Type: TypeNumber, Required: true},
			{Name: "y", Type: TypeNumber, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			x, _ := call.Params["x"].(float64)
			y, _ := call.Params["y"].(float64)
			script := fmt.Sprintf(
				"document.dispatchEvent(new MouseEvent('mousemove',{clientX:%v,clientY:%v,bubbles:true}))", x, y)
			return interact(ctx, d, call, "mouse_move", script)
		},
	})

	r.Register(CommandSpec{
		Name: "mouse_click", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema: Schema{Fields: []Field{
			{Name: "x", Type: TypeNumber, Required: true},
			{Name: "y", Type: TypeNumber, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			x, _ := call.Params["x"].(float64)
			y, _ := call.Params["y"].(float64)
			script := fmt.Sprintf(
				"(function(){var ev={clientX:%v,clientY:%v,bubbles:true};var t=document.elementFromPoint(%v,%v);if(t){t.dispatchEvent(new MouseEvent('mousedown',ev));t.dispatchEvent(new MouseEvent('mouseup',ev));t.dispatchEvent(new MouseEvent('click',ev));}})()",
				x, y, x, y)
			return interact(ctx, d, call, "mouse_click", script)
		},
	})

	r.Register(CommandSpec{
		Name: "mouse_drag", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema: Schema{Fields: []Field{
			{Name: "from_x", Type: TypeNumber, Required: true},
			{Name: "from_y", Type: TypeNumber, Required: true},
			{Name: "to_x", Type: TypeNumber, Required: true},
			{Name: "to_y", Type: TypeNumber, Required: true},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			fx, _ := call.Params["from_x"].(float64)
			fy, _ := call.Params["from_y"].(float64)
			tx, _ := call.Params["to_x"].(float64)
			ty, _ := call.Params["to_y"].(float64)
			script := fmt.Sprintf(
				`(function(){
					var src=document.elementFromPoint(%v,%v);
					var dst=document.elementFromPoint(%v,%v);
					if(!src||!dst)return;
					var down={clientX:%v,clientY:%v,bubbles:true};
					var up={clientX:%v,clientY:%v,bubbles:true};
					src.dispatchEvent(new MouseEvent('mousedown',down));
					document.dispatchEvent(new MouseEvent('mousemove',up));
					dst.dispatchEvent(new MouseEvent('mouseup',up));
				})()`, fx, fy, tx, ty, fx, fy, tx, ty)
			return interact(ctx, d, call, "mouse_drag", script)
		},
	})

	r.Register(CommandSpec{
		Name: "key_press", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema:        Schema{Fields: []Field{{Name: "key", Type: TypeString, Required: true}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			script := fmt.Sprintf(
				"document.activeElement.dispatchEvent(new KeyboardEvent('keydown',{key:%s,bubbles:true}))",
				jsString(str(call.Params, "key")))
			return interact(ctx, d, call, "key_press", script)
		},
	})

	r.Register(CommandSpec{
		Name: "key_combination", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema:        Schema{Fields: []Field{{Name: "keys", Type: TypeArray, Required: true}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			keys := strSlice(call.Params, "keys")
			if len(keys) == 0 {
				return nil, errs.New(errs.InvalidParams, "keys: must name at least one key")
			}
			modifiers := ""
			for _, k := range keys[:len(keys)-1] {
				switch k {
				case "Control", "Ctrl":
					modifiers += "ctrlKey:true,"
				case "Shift":
					modifiers += "shiftKey:true,"
				case "Alt":
					modifiers += "altKey:true,"
				case "Meta", "Cmd":
					modifiers += "metaKey:true,"
				}
			}
			script := fmt.Sprintf(
				"document.activeElement.dispatchEvent(new KeyboardEvent('keydown',{key:%s,%sbubbles:true}))",
				jsString(keys[len(keys)-1]), modifiers)
			return interact(ctx, d, call, "key_combination", script)
		},
	})
}
