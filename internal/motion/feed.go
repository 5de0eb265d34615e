package motion

import "context"

// Feed pushes raw samples of one or both kinds into out until ctx ends.
// Feeds must not close out.
type Feed interface {
	Name() string
	// Kinds lists which sensors this feed provides.
	Kinds() []Kind
	Run(ctx context.Context, out chan<- Sample) error
}

// SensorError reports that a feed lost (or never had) a sensor.
type SensorError struct {
	Kind Kind
	Err  error
}

func (e *SensorError) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *SensorError) Unwrap() error { return e.Err }

func send(ctx context.Context, out chan<- Sample, s Sample) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
