// Package activity publishes finished-import summaries for the external
// activity/audit feed. Consumption of the feed is out of scope.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/job"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/shared/rabbitmq"
)

// importCompletedMessage is the wire shape of one feed item.
type importCompletedMessage struct {
	Event      string      `json:"event"`
	JobID      string      `json:"job_id"`
	Summary    job.Summary `json:"summary"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Publisher emits summaries to RabbitMQ. Satisfies pipeline.ActivityLog.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a publisher over the shared client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// ImportCompleted publishes one finished-import summary. Failures are the
// caller's to log; a missed feed item never affects the job itself.
func (p *Publisher) ImportCompleted(ctx context.Context, jobID string, summary job.Summary) error {
	body, err := json.Marshal(importCompletedMessage{
		Event:      "import_completed",
		JobID:      jobID,
		Summary:    summary,
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode activity message: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return err
	}

	p.logger.Debug("Published import summary",
		slog.String("job_id", jobID),
		slog.Int("entries_created", summary.EntriesCreated),
	)
	return nil
}
