package handler

import (
	"context"
	"errors"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"testing"
	"worker-transcribe/dto"
)

type fakeWorker struct {
	tasks []dto.ChunkTask
	err   error
}

func (f *fakeWorker) Process(_ context.Context, task dto.ChunkTask) error {
	f.tasks = append(f.tasks, task)
	return f.err
}

func TestChunkTaskHandler(t *testing.T) {
	jobId := uuid.New()
	w := &fakeWorker{}
	msg := amqp.Delivery{Body: []byte(`{"jobId":"` + jobId.String() + `","chunkIndex":4}`)}

	if err := ChunkTaskHandler(context.Background(), msg, ServiceDependencies{Worker: w}); err != nil {
		t.Fatalf("ChunkTaskHandler() error = %v", err)
	}
	if len(w.tasks) != 1 || w.tasks[0].JobId != jobId || w.tasks[0].ChunkIndex != 4 {
		t.Fatalf("tasks = %+v", w.tasks)
	}
}

func TestChunkTaskHandlerMalformedIsPermanent(t *testing.T) {
	for _, body := range []string{`not json`, `{"chunkIndex":1}`} {
		w := &fakeWorker{}
		err := ChunkTaskHandler(context.Background(), amqp.Delivery{Body: []byte(body)}, ServiceDependencies{Worker: w})
		var permanent *backoff.PermanentError
		if !errors.As(err, &permanent) {
			t.Fatalf("body %q: error = %v, want permanent", body, err)
		}
		if len(w.tasks) != 0 {
			t.Fatalf("body %q reached the worker", body)
		}
	}
}

func TestChunkTaskHandlerPropagatesWorkerError(t *testing.T) {
	boom := errors.New("db down")
	w := &fakeWorker{err: boom}
	msg := amqp.Delivery{Body: []byte(`{"jobId":"` + uuid.New().String() + `","chunkIndex":0}`)}

	if err := ChunkTaskHandler(context.Background(), msg, ServiceDependencies{Worker: w}); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}
