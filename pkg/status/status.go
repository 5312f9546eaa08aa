// Package status controls the externally visible state of a push source
// around an ingestion run.
package status

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/pushapi/pkg/pushapi"
)

// ErrInvalidHours is returned for a number of hours that is not finite or
// does not fit in a time.Duration.
var ErrInvalidHours = errors.New("hours must be a finite number of at most 2562047")

// maxHours is the largest magnitude whose duration stays below MaxInt64.
const maxHours = float64(math.MaxInt64) / float64(time.Hour)

// HoursDuration converts a number of hours to a duration.
func HoursDuration(hours float64) (time.Duration, error) {
	if math.IsNaN(hours) || math.IsInf(hours, 0) || math.Abs(hours) >= maxHours {
		return 0, fmt.Errorf("%w: %v", ErrInvalidHours, hours)
	}
	return time.Duration(hours * float64(time.Hour)), nil
}

// API is the subset of the Push API used by the Controller.
type API interface {
	SetSourceStatus(ctx context.Context, status pushapi.SourceStatus) error
	DeleteOlderThan(ctx context.Context, orderingID int64) error
}

// Controller issues status transitions and old-document deletes.
type Controller struct {
	api    API
	now    func() time.Time
	logger hclog.Logger

	last pushapi.SourceStatus
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a new Controller.
func New(api API, opts ...Option) *Controller {
	c := &Controller{
		api: api,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = hclog.NewNullLogger()
	}
	c.logger = c.logger.Named("status")
	return c
}

// SetStatus sets the source status.
func (c *Controller) SetStatus(ctx context.Context, status pushapi.SourceStatus) error {
	c.logger.Info("changing source status", "status", status)
	if err := c.api.SetSourceStatus(ctx, status); err != nil {
		return fmt.Errorf("failed to set source status to %s: %w", status, err)
	}
	c.last = status
	return nil
}

// Last returns the last status successfully sent, or "" if none was.
func (c *Controller) Last() pushapi.SourceStatus {
	return c.last
}

// Bracket marks the source REBUILD, runs fn, and marks the source IDLE once
// fn returns, whether or not fn failed. fn is not run if the REBUILD call
// fails. The IDLE call uses a context detached from ctx's cancellation so a
// cancelled run still releases the source.
func (c *Controller) Bracket(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := c.SetStatus(ctx, pushapi.StatusRebuild); err != nil {
		return err
	}

	defer func() {
		idleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()

		if idleErr := c.SetStatus(idleCtx, pushapi.StatusIdle); idleErr != nil {
			if err == nil {
				err = idleErr
			} else {
				c.logger.Error("failed to release source", "error", idleErr)
			}
		}
	}()

	return fn(ctx)
}

// DeleteOlderThan deletes the documents of the source that were last updated
// before cutoff. A cutoff in the future is ignored and false is returned,
// since it would delete documents that are about to be pushed.
func (c *Controller) DeleteOlderThan(ctx context.Context, cutoff time.Time) (bool, error) {
	now := c.now()
	if cutoff.After(now) {
		c.logger.Warn("delete cutoff is in the future, not deleting", "cutoff", cutoff, "now", now)
		return false, nil
	}

	orderingID := cutoff.UnixMilli()
	c.logger.Info("deleting documents older than cutoff", "cutoff", cutoff.UTC().Format(time.RFC3339), "ordering_id", orderingID)

	if err := c.api.DeleteOlderThan(ctx, orderingID); err != nil {
		return false, fmt.Errorf("failed to delete documents older than %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	return true, nil
}

// DeleteOlderThanHours deletes the documents last updated more than hours
// before now.
func (c *Controller) DeleteOlderThanHours(ctx context.Context, hours float64) (bool, error) {
	age, err := HoursDuration(hours)
	if err != nil {
		return false, err
	}
	return c.DeleteOlderThan(ctx, c.now().Add(-age))
}
