package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/Aidin1998/vendorpulse/pkg/errors"
	"github.com/Aidin1998/vendorpulse/pkg/logger"
)

// Alerter raises an attention-grabbing alert (sound, desktop notification)
type Alerter interface {
	Alert(ctx context.Context, title, body string) error
}

// LogAlerter writes alerts to the log
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(log *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger.OrNop(log).With(zap.String("component", "alerter"))}
}

func (a *LogAlerter) Alert(ctx context.Context, title, body string) error {
	a.logger.Info("vendor alert", zap.String("title", title), zap.String("body", body))
	return nil
}

// MultiAlerter fans an alert out to every alerter and joins their errors
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, title, body string) error {
	var errs []error
	for _, a := range m {
		if err := a.Alert(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
