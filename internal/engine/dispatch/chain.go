package dispatch

import (
	"context"
	"maps"
	"sort"
	"time"

	"github.com/louisbranch/weave/internal/engine/entity"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// candidate pairs a handler with the index of the registry that contributed
// it, which breaks ordering ties between registries.
type candidate struct {
	Handler
	registry int
}

// Chain merges the given registries and invokes every handler matching task
// and call.Caller, in (layer, priority, registry order, registration order).
// One JobReceipt is appended per invocation. A handler returning Done stops
// the chain; a handler error stops it too and is returned wrapped, with the
// receipts collected so far.
func Chain(ctx context.Context, call Call, task string, registries ...*Registry) ([]JobReceipt, error) {
	var matched []candidate
	for i, reg := range registries {
		if reg == nil {
			continue
		}
		for _, h := range reg.HandlersFor(task, call.Caller) {
			matched = append(matched, candidate{Handler: h, registry: i})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Layer != matched[j].Layer {
			return matched[i].Layer < matched[j].Layer
		}
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].registry < matched[j].registry
	})

	var receipts []JobReceipt
	for _, c := range matched {
		if err := ctx.Err(); err != nil {
			return receipts, err
		}
		result, err := c.Fn(ctx, call)
		if err != nil {
			return receipts, apperrors.WrapWithMetadata(apperrors.CodeHandlerError, "handler failed", map[string]string{
				"handler": c.Name,
				"task":    task,
				"layer":   c.Layer.String(),
			}, err)
		}
		receipts = append(receipts, JobReceipt{
			Handler: c.Name,
			Task:    task,
			Layer:   c.Layer,
			Caller:  callerUID(call.Caller),
			Args:    maps.Clone(call.Args),
			Value:   result.Value,
			Done:    result.Done,
			At:      time.Now().UTC(),
		})
		if result.Done {
			break
		}
	}
	return receipts, nil
}

func callerUID(caller *entity.Entity) entity.UID {
	if caller == nil {
		return ""
	}
	return caller.UID
}
