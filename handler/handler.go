package handler

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"worker-transcribe/dto"
	"worker-transcribe/service"
)

var errMissingJobId = errors.New("chunk task without job id")

type ServiceDependencies struct {
	Worker service.Worker
}

// ChunkTaskHandler decodes one chunk task. Malformed messages are not retried and end up
// in the DLQ.
func ChunkTaskHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var task dto.ChunkTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal chunk task")
		return backoff.Permanent(err)
	}
	if task.JobId == uuid.Nil {
		zerolog.Ctx(ctx).Error().Str("body", string(msg.Body)).Msg("invalid chunk task")
		return backoff.Permanent(errMissingJobId)
	}

	return deps.Worker.Process(ctx, task)
}
