package wire

import (
	"math/rand"
	"time"
)

// randomDelay returns a random duration between min and max
func randomDelay(min, max time.Duration) time.Duration {
	if min >= max {
		return min
	}
	delta := max - min
	return min + time.Duration(rand.Int63n(int64(delta)))
}

// simulatedRSSI returns a plausible signal strength sample
func simulatedRSSI() int16 {
	return int16(StrongestRSSI - rand.Intn(StrongestRSSI-WeakestRSSI+1))
}
