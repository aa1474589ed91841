package dispatch

import (
	"context"

	"github.com/helmsman-dev/helmsman/internal/engine"
	"github.com/helmsman-dev/helmsman/internal/errs"
	"github.com/helmsman-dev/helmsman/internal/ledger"
	"github.com/helmsman-dev/helmsman/internal/store"
	"github.com/helmsman-dev/helmsman/internal/view"
)

func capture(ctx context.Context, d *Deps, call *Call, commandName string, kind engine.CaptureKind) (any, error) {
	if err := call.View.BeginCommand(call.Request.ID, commandName, view.StateCapturing); err != nil {
		return nil, err
	}
	defer call.View.EndCommand()

	h, err := d.handleFor(ctx, call.View.ID())
	if err != nil {
		return nil, errs.Wrap(errs.EngineError, "no engine handle for view", err)
	}
	res, err := d.Adapter.Capture(ctx, h, kind)
	if err != nil {
		return nil, errs.Wrap(errs.EngineError, commandName+" failed", err)
	}
	return map[string]any{
		"content_type":   res.ContentType,
		"payload_digest": ledger.HashPayload(res.Data),
		"size_bytes":     len(res.Data),
	}, nil
}

func registerCaptureCommands(r *Registry, d *Deps) {
	r.Register(CommandSpec{
		Name: "screenshot", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return capture(ctx, d, call, "screenshot", engine.CaptureScreenshot)
		},
	})
	r.Register(CommandSpec{
		Name: "screenshot_full_page", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return capture(ctx, d, call, "screenshot_full_page", engine.CaptureScreenshot)
		},
	})
	r.Register(CommandSpec{
		Name: "screenshot_element", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema:        Schema{Fields: []Field{{Name: "selector", Type: TypeString, Required: true}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			return capture(ctx, d, call, "screenshot_element", engine.CaptureScreenshot)
		},
	})

	r.Register(CommandSpec{
		Name: "capture_forensic_snapshot", Mutating: true, RequiresView: true,
		AllowedStates: []view.State{view.StateIdle},
		Schema: Schema{Fields: []Field{
			{Name: "timeout_ms", Type: TypeNumber, Min: floatPtr(0)},
			{Name: "kinds", Type: TypeArray},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			var kinds []engine.CaptureKind
			for _, k := range strSlice(call.Params, "kinds") {
				kinds = append(kinds, engine.CaptureKind(k))
			}
			sessionID := call.View.SessionID()
			actorID := call.Conn
			res, err := d.Orchestrator.CaptureForensicSnapshot(ctx, call.View.ID(), sessionID, actorID, timeoutOf(call.Params), kinds)
			if err != nil {
				return nil, errs.Wrap(errs.EngineError, "capture_forensic_snapshot failed", err)
			}
			return map[string]any{
				"batch_id": res.BatchID,
				"records":  res.Records,
				"failed":   res.Failed,
			}, nil
		},
	})

	r.Register(CommandSpec{
		Name:      "verify_evidence",
		Retryable: true,
		Schema:    Schema{Fields: []Field{{Name: "from_record_id", Type: TypeString}}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			disc := d.Ledger.VerifyFrom(str(call.Params, "from_record_id"))
			if disc != nil {
				return map[string]any{"ok": false, "record_id": disc.RecordID, "reason": disc.Reason}, nil
			}
			return map[string]any{"ok": true}, nil
		},
	})

	r.Register(CommandSpec{
		Name:      "get_audit_log",
		Retryable: true,
		Schema: Schema{Fields: []Field{
			{Name: "n", Type: TypeNumber, Min: floatPtr(1), Max: floatPtr(10000)},
			{Name: "view_id", Type: TypeString},
			{Name: "session_id", Type: TypeString},
			{Name: "actor_id", Type: TypeString},
			{Name: "kind", Type: TypeString},
			{Name: "batch_id", Type: TypeString},
			{Name: "cursor", Type: TypeNumber},
		}},
		Handler: func(ctx context.Context, call *Call) (any, error) {
			// Without a derived index (e.g. in tests that wire Deps by
			// hand) fall back to a plain ledger tail scan.
			if d.Store == nil {
				n := 100
				if v, ok := call.Params["n"].(float64); ok {
					n = int(v)
				}
				return map[string]any{"records": d.Ledger.Tail(n)}, nil
			}

			limit := 100
			if v, ok := call.Params["n"].(float64); ok {
				limit = int(v)
			}
			cursor := 0
			if v, ok := call.Params["cursor"].(float64); ok {
				cursor = int(v)
			}
			page, err := d.Store.QueryAuditLog(ctx, store.AuditFilter{
				ViewID:    str(call.Params, "view_id"),
				SessionID: str(call.Params, "session_id"),
				ActorID:   str(call.Params, "actor_id"),
				Kind:      str(call.Params, "kind"),
				BatchID:   str(call.Params, "batch_id"),
				Cursor:    cursor,
				Limit:     limit,
			})
			if err != nil {
				return nil, errs.Wrap(errs.InternalError, "querying audit index", err)
			}
			records := make([]ledger.Record, 0, len(page.RecordIDs))
			for _, id := range page.RecordIDs {
				if rec, ok := d.Ledger.Get(id); ok {
					records = append(records, rec)
				}
			}
			return map[string]any{
				"records":     records,
				"next_cursor": page.NextCursor,
				"has_more":    page.HasMore,
			}, nil
		},
	})
}
