package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// HealthStatus is the retained health payload's shape.
type HealthStatus struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

// HealthPublisher publishes a single retained message, the same contract
// connector.Sink already satisfies.
type HealthPublisher interface {
	Publish(ctx context.Context, msg message.Message) error
}

// PublishHealth publishes {"status":status,"pid":os.Getpid()} retained on
// topic, status being "up" once bridge/flow subsystems are confirmed
// running and "down" until then.
func PublishHealth(ctx context.Context, pub HealthPublisher, topic, status string) error {
	payload, err := json.Marshal(HealthStatus{Status: status, PID: os.Getpid()})
	if err != nil {
		return fmt.Errorf("lifecycle: marshal health status: %w", err)
	}
	msg := message.New(topic, payload)
	msg.QoS = 1
	msg.Retained = true
	return pub.Publish(ctx, msg)
}
