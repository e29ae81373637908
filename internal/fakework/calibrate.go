// File: internal/fakework/calibrate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fakework

import "time"

// Calibrate searches for the smallest power-of-two iteration count at
// which spec's Run takes at least targetNS nanoseconds on this machine, by doubling
// the trial iteration count until the measured duration meets the
// target, then returning the last trial. This is a one-shot probe, not
// a statistical benchmark: callers that need a stable number should
// average several Calibrate runs.
func Calibrate(spec Spec, targetNS int64) (iters uint64, measured time.Duration) {
	target := time.Duration(targetNS)
	if target <= 0 {
		return 0, 0
	}
	const rnd = 0xC0FFEE
	n := uint64(1)
	for {
		start := time.Now()
		Run(spec, n, rnd)
		elapsed := time.Since(start)
		if elapsed >= target || n > (1<<40) {
			return n, elapsed
		}
		n *= 2
	}
}
