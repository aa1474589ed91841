package dispatch

import (
	"context"

	"github.com/helmsman-dev/helmsman/internal/errs"
)

// extractScripts map each extraction command to the DOM script that
// produces its JSON result; all four are pure reads so they run
// without a state transition (spec §4.2's read-concurrency invariant).
var extractScripts = map[string]string{
	"extract_links": "JSON.stringify(Array.from(document.querySelectorAll('a[href]')).map(a=>({href:a.href,text:a.textContent.trim()})))",
	"extract_forms": "JSON.stringify(Array.from(document.querySelectorAll('form')).map(f=>({action:f.action,method:f.method,fields:Array.from(f.elements).map(e=>e.name).filter(Boolean)})))",
	"extract_images": "JSON.stringify(Array.from(document.querySelectorAll('img')).map(i=>({src:i.src,alt:i.alt})))",
	"extract_metadata": "JSON.stringify(Array.from(document.querySelectorAll('meta')).map(m=>({name:m.name||m.getAttribute('property'),content:m.content})))",
}

func registerExtractionCommands(r *Registry, d *Deps) {
	for name, script := range extractScripts {
		name, script := name, script
		r.Register(CommandSpec{
			Name:         name,
			Retryable:    true,
			RequiresView: true,
			Handler: func(ctx context.Context, call *Call) (any, error) {
				h, err := d.handleFor(ctx, call.View.ID())
				if err != nil {
					return nil, errs.Wrap(errs.EngineError, "no engine handle for view", err)
				}
				res, err := d.Adapter.Evaluate(ctx, h, script, timeoutOf(call.Params))
				if err != nil {
					return nil, errs.Wrap(errs.EngineError, name+" failed", err)
				}
				return map[string]any{"items_json": string(res.ValueJSON)}, nil
			},
		})
	}
}
