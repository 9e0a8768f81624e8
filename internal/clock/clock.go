package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the current time. Audit timestamps and posting dates read it
// so tests can pin them.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func New() Clock {
	return SystemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
