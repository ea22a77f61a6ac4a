package fastsync

import (
	"io"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// NewLogger returns a JSON logger writing to w at the given level, suitable
// for WithLogger. Calls marked with Limit (spurious wake-ups, wait-all
// restarts) are rate limited per call site.
func NewLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
		stumpy.L.WithCategoryRateLimits(map[time.Duration]int{
			time.Second:     20,
			time.Minute * 5: 200,
		}),
	).Logger()
}
