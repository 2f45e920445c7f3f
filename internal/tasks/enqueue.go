package tasks

import (
	"context"

	"backoffice/internal/queue"
)

// Enqueuer schedules provider revocations for the worker.
type Enqueuer struct {
	publisher *queue.Publisher
}

func NewEnqueuer(publisher *queue.Publisher) *Enqueuer {
	return &Enqueuer{publisher: publisher}
}

func (e *Enqueuer) EnqueueRevocation(ctx context.Context, provider, userID, sessionID string) error {
	_, err := e.publisher.Publish(ctx, TaskPayload{
		Type:      TypeRevokeProviderToken,
		Provider:  provider,
		UserID:    userID,
		SessionID: sessionID,
	}.values())
	return err
}
