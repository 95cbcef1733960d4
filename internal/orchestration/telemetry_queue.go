package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type telemetryKind string

const (
	telemetryKindDecision telemetryKind = "decision"
	telemetryKindQuality  telemetryKind = "quality"
	telemetryKindMemory   telemetryKind = "memory"
	telemetryKindCrisis   telemetryKind = "crisis"
)

// telemetryEnvelope is the queue wire format. Exactly one payload field is set
// per envelope, matching Kind.
type telemetryEnvelope struct {
	ID       string                `json:"id"`
	Kind     telemetryKind         `json:"kind"`
	Decision *DecisionRecord       `json:"decision,omitempty"`
	Quality  *QualityMetricsUpdate `json:"quality,omitempty"`
	Memory   *MemoryEntry          `json:"memory,omitempty"`
	Crisis   *CrisisMonitorRecord  `json:"crisis,omitempty"`
}

func encodeEnvelope(env telemetryEnvelope) (telemetryEnvelope, string, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	body, err := json.Marshal(env)
	if err != nil {
		return telemetryEnvelope{}, "", fmt.Errorf("orchestration: failed to encode telemetry envelope: %w", err)
	}

	return env, string(body), nil
}
