// Package connector implements the three input/output transports a flow
// can bind to: MQTT (shared across all flows, multiplexed sub/pub), file
// (tail or interval re-read), and process (streaming or interval re-run).
package connector

import (
	"context"

	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// Source is the receive half of a connector: it pushes messages to out
// until ctx is cancelled, then returns. It does not close out, which may be
// shared with other sources.
type Source interface {
	Run(ctx context.Context, out chan<- message.Message) error
}

// Sink is the publish half of a connector.
type Sink interface {
	Publish(ctx context.Context, msg message.Message) error
}
