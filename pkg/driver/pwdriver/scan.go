package pwdriver

import (
	"context"
	"fmt"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
	"github.com/playwright-community/playwright-go"
)

// Scan implements driver.Scanner by evaluating the scan script in every frame,
// breadth first, down to maxDepth.
func (d *Driver) Scan(ctx context.Context, maxDepth int) ([]driver.RawElement, error) {
	type queued struct {
		path  form.FramePath
		frame playwright.Frame
	}

	var out []driver.RawElement
	queue := []queued{{path: form.MainFrame, frame: d.page.MainFrame()}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		cur := queue[0]
		queue = queue[1:]

		result, err := cur.frame.Evaluate(driver.ScanScript)
		if err != nil {
			if cur.path == form.MainFrame {
				return nil, fmt.Errorf("scan main frame: %w", mapError(err))
			}
			// Cross-origin or detached frames are skipped.
			debugLog.Warnf("Skipping frame %s: %v", cur.path, err)
			continue
		}
		raws, err := driver.DecodeScan(cur.path, result)
		if err != nil {
			return nil, err
		}
		out = append(out, raws...)

		if cur.path.Depth() >= maxDepth {
			continue
		}
		for i, child := range cur.frame.ChildFrames() {
			if child.IsDetached() {
				continue
			}
			queue = append(queue, queued{path: cur.path.Child(frameID(child, i)), frame: child})
		}
	}
	debugLog.Debugf("Scanned %d raw elements", len(out))
	return out, nil
}
