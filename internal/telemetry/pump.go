package telemetry

import "context"

// Pump moves samples from the latest-value cell into the reading until ctx
// is done. Samples are applied in arrival order; ones overwritten before
// Pump got to them are skipped.
func Pump(ctx context.Context, src *Latest, dst *Reading) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-src.Ready():
			if s, ok := src.Take(); ok {
				dst.Apply(s)
			}
		}
	}
}
