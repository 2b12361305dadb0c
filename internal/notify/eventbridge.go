// Package notify announces finished derivatives to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// Event source and detail type used on the bus.
const (
	Source                     = "image-sizes"
	DetailTypeDerivativesReady = "ImageDerivativesCreated"
)

// DerivativesCreated is the event detail emitted after both derivatives of
// an original were uploaded.
type DerivativesCreated struct {
	JobID     string `json:"jobId"`
	TaskID    string `json:"taskId"`
	Bucket    string `json:"bucket"`
	SourceKey string `json:"sourceKey"`
	VersionID string `json:"versionId,omitempty"`
	ThumbKey  string `json:"thumbKey"`
	MediumKey string `json:"mediumKey"`
}

// PutEventsAPI is the subset of *eventbridge.Client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeNotifier publishes DerivativesCreated events to one bus.
type EventBridgeNotifier struct {
	client  PutEventsAPI
	busName string
}

// NewEventBridgeNotifier returns a notifier for busName ("" means the
// account's default bus).
func NewEventBridgeNotifier(client PutEventsAPI, busName string) *EventBridgeNotifier {
	return &EventBridgeNotifier{client: client, busName: busName}
}

// DerivativesCreated sends one event. A partially failed PutEvents call is
// reported as an error.
func (n *EventBridgeNotifier) DerivativesCreated(ctx context.Context, event DerivativesCreated) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal DerivativesCreated: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailTypeDerivativesReady),
		Detail:     aws.String(string(detail)),
	}
	if n.busName != "" {
		entry.EventBusName = aws.String(n.busName)
	}

	result, err := n.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", result.FailedEntryCount)
	}

	log.Debug().Str("taskId", event.TaskID).Str("sourceKey", event.SourceKey).Msg("DerivativesCreated emitted to EventBridge")
	return nil
}
