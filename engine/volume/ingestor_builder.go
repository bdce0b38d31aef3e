package volume

// IngestorOption is a functional option used to configure an Ingestor.
type IngestorOption func(*ingestor)

// WithProgress registers a callback invoked after each slice submission. Submission is
// not completion, so the reported progress runs ahead of the device.
//
// Parameters:
//   - fn: the progress callback
//
// Returns:
//   - IngestorOption: a function that sets the callback
func WithProgress(fn ProgressFunc) IngestorOption {
	return func(in *ingestor) {
		in.progress = fn
	}
}

// WithConversionWorkers sets how many goroutines interleave samples. Values <= 0 keep
// the default of one per CPU.
func WithConversionWorkers(n int) IngestorOption {
	return func(in *ingestor) {
		if n > 0 {
			in.workers = n
		}
	}
}
