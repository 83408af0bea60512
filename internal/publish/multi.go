package publish

import (
	"context"
	"errors"

	"chargewatch/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, run model.RunSummary) error
}

// Multi hands every run to each publisher in turn, skipping nil entries.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, run model.RunSummary) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
