package metrics

import "errors"

// ErrNoSamples indicates LatestHealthScore was called before any sample
// was ever taken.
var ErrNoSamples = errors.New("no_samples")
