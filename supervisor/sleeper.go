/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package supervisor

import (
	"context"
	"time"
)

// Sleeper suspends the recalibration loop between ticks.
// Sleep returns non-nil error when the loop has to stop.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ThreadSleeper blocks the calling OS thread.
// Cancellation is noticed when the sleep is over.
type ThreadSleeper struct{}

// Sleep implements Sleeper
func (ThreadSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	time.Sleep(d)
	return ctx.Err()
}

// TaskSleeper waits on a timer and yields to the scheduler
type TaskSleeper struct{}

// Sleep implements Sleeper
func (TaskSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
