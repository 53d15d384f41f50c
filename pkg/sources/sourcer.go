package sources

import (
	"context"

	"github.com/tripflow/tripflow/pkg/stream"
)

// Sourcer provides a stream.SourceReader abstraction over the
// underlying transport, plus the lifecycle to connect it. This is
// intended to be consumed by the pipeline runner.
type Sourcer interface {
	stream.SourceReader
	// Start connects the source. It returns once the source is ready
	// to serve Read.
	Start(ctx context.Context) error
}
