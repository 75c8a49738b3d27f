package wait

import (
	"context"
	"time"

	kwait "k8s.io/apimachinery/pkg/util/wait"
)

// PollUntilDone calls fn every interval until it reports done, returns an error or ctx is cancelled.
// The first call happens immediately.
func PollUntilDone(ctx context.Context, interval time.Duration, fn func(ctx context.Context) (bool, error)) error {
	return kwait.PollUntilContextCancel(ctx, interval, true, fn)
}
