package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StatusFunc is invoked whenever the observed remote status changes.
type StatusFunc func(status string)

// WaitForCompletion polls remoteJobID every pollInterval until the provider
// reports SUCCESS, FAILED, or maxWait elapses. It blocks the caller for the
// whole run; the sweeper should be preferred outside of tools and tests.
//
// Query errors are logged and polling continues.
func (c *Client) WaitForCompletion(ctx context.Context, remoteJobID string, maxWait, pollInterval time.Duration, onChange StatusFunc) ([]Output, error) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := ""
	for {
		status, err := c.QueryStatus(waitCtx, remoteJobID)
		if err != nil {
			if waitCtx.Err() == nil {
				c.logger.Warn().Err(err).Str("remote_job_id", remoteJobID).Msg("render: status poll failed")
			}
		} else {
			status = strings.ToUpper(status)
			if status != last {
				last = status
				if onChange != nil {
					onChange(status)
				}
			}
			switch status {
			case StatusSuccess:
				return c.FetchOutputs(ctx, remoteJobID)
			case StatusFailed:
				return nil, fmt.Errorf("%w: %s", ErrJobFailed, remoteJobID)
			}
		}

		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w after %s (last status %q)", ErrWaitTimeout, maxWait, last)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
