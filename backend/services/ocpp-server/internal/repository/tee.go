package repository

import (
	"context"
	"errors"
)

// FrameSink stores raw OCPP frames.
type FrameSink interface {
	Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error
}

// Tee writes every frame to all sinks. Every sink is tried; the errors are joined.
type Tee []FrameSink

// Save implements FrameSink.
func (t Tee) Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error {
	var errs []error
	for _, sink := range t {
		if err := sink.Save(ctx, stationID, direction, messageType, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
