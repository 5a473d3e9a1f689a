package handler

import (
	"context"
	"fmt"

	"github.com/entrhq/formforge/pkg/driver"
	"github.com/entrhq/formforge/pkg/form"
)

// OptionLoader reads the options of a scripted dropdown by opening it,
// collecting the rendered labels and closing it again. It satisfies
// strategy.OptionLoader.
type OptionLoader struct {
	drv driver.Driver
	res Resolver
	cfg Config
}

// NewOptionLoader returns a loader over drv.
func NewOptionLoader(drv driver.Driver, res Resolver, cfg Config) *OptionLoader {
	return &OptionLoader{drv: drv, res: res, cfg: cfg.withDefaults()}
}

// LoadOptions returns the labels rendered when field's control is opened.
// An empty list is not an error.
func (l *OptionLoader) LoadOptions(ctx context.Context, field *form.FieldDescriptor) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ActionTimeout)
	defer cancel()

	h, err := l.res.Resolve(ctx, field.Ref())
	if err != nil {
		return nil, err
	}
	st, err := l.drv.ReadState(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("read %s before opening: %w", field.ID, err)
	}
	opened := false
	if !st.Expanded {
		if err := l.drv.Click(ctx, h); err != nil {
			return nil, fmt.Errorf("open %s: %w", field.ID, err)
		}
		opened = true
	}

	var labels []string
	if _, err := driver.Poll(ctx, l.cfg.PollInterval, l.cfg.SettleWait, func(ctx context.Context) (bool, error) {
		opts, err := l.drv.RenderedOptions(ctx, h)
		if err != nil {
			return false, err
		}
		labels = opts
		return len(opts) > 0, nil
	}); err != nil {
		return nil, fmt.Errorf("read options of %s: %w", field.ID, err)
	}

	if opened {
		if err := l.drv.Click(ctx, h); err != nil {
			debugLog.Warnf("Failed to close %s after loading options: %v", field.ID, err)
		}
	}
	debugLog.Debugf("Loaded %d options for %s", len(labels), field.ID)
	return labels, nil
}
