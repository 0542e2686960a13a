package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"os"
	"sync"
	"testing"
	"time"
	"worker-transcribe/constant"
	"worker-transcribe/dto"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/blob"
	"worker-transcribe/pkg/media"
	"worker-transcribe/pkg/stt"
	"worker-transcribe/repository"
)

type queuedTask struct {
	Task     dto.ChunkTask
	Priority uint8
	Delay    time.Duration
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queuedTask
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, task dto.ChunkTask, priority uint8, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, queuedTask{Task: task, Priority: priority, Delay: delay})
	return nil
}

func (q *fakeQueue) drain() []queuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.tasks
	q.tasks = nil
	return out
}

type fakeMedia struct {
	mu        sync.Mutex
	info      *media.ProbeInfo
	probeErr  error
	sliceErr  error
	failIndex int
	slices    int
	dsts      []string
}

func (m *fakeMedia) Probe(context.Context, string) (*media.ProbeInfo, error) {
	if m.probeErr != nil {
		return nil, m.probeErr
	}
	return m.info, nil
}

func (m *fakeMedia) Slice(_ context.Context, _, dst string, start, length time.Duration) error {
	m.mu.Lock()
	call := m.slices
	m.slices++
	m.dsts = append(m.dsts, dst)
	m.mu.Unlock()
	if m.sliceErr != nil && call == m.failIndex {
		return m.sliceErr
	}
	return os.WriteFile(dst, []byte(fmt.Sprintf("%s+%s", start, length)), 0o644)
}

// fakeProvider answers by chunk index, parsed from the uploaded file name.
type fakeProvider struct {
	mu      sync.Mutex
	calls   map[int]int
	respond func(index, call int) (*stt.Response, error)
}

func (p *fakeProvider) Name() string {
	return "fake"
}

func (p *fakeProvider) Transcribe(_ context.Context, req stt.Request) (*stt.Response, error) {
	var index int
	if _, err := fmt.Sscanf(req.FileName, "chunk_%04d.wav", &index); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.calls == nil {
		p.calls = map[int]int{}
	}
	p.calls[index]++
	call := p.calls[index]
	p.mu.Unlock()
	return p.respond(index, call)
}

func (p *fakeProvider) callsFor(index int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[index]
}

func textResponses(texts map[int]string) func(int, int) (*stt.Response, error) {
	return func(index, _ int) (*stt.Response, error) {
		text, ok := texts[index]
		if !ok {
			return nil, &stt.PermanentProviderError{StatusCode: 400, Message: "no fixture"}
		}
		return &stt.Response{Text: text, Language: "en", Confidence: 0.9}, nil
	}
}

type harness struct {
	repo     repository.JobRepository
	store    *blob.MemoryStore
	media    *fakeMedia
	queue    *fakeQueue
	provider *fakeProvider
	merger   Merger
	orch     *orchestrator
	worker   Worker
}

func newTestRepo(t *testing.T) repository.JobRepository {
	t.Helper()
	repo, err := repository.NewSQLiteRepo(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func newHarness(t *testing.T, threshold float64, respond func(index, call int) (*stt.Response, error)) *harness {
	t.Helper()
	h := &harness{
		repo:     newTestRepo(t),
		store:    blob.NewMemoryStore(),
		media:    &fakeMedia{},
		queue:    &fakeQueue{},
		provider: &fakeProvider{respond: respond},
	}
	h.merger = NewMerger(h.repo, threshold)
	h.orch = NewOrchestrator(h.repo, NewChunker(h.store, h.media, 60*time.Second, 2*time.Second, t.TempDir()), h.queue, h.merger, OrchestratorOptions{
		ChunkDuration:   60 * time.Second,
		OverlapDuration: 2 * time.Second,
		MergeTimeout:    time.Hour,
		MergeRetryAfter: 10 * time.Minute,
		CancelGrace:     2 * time.Minute,
	}).(*orchestrator)
	h.worker = NewWorker(h.repo, h.store, h.provider, h.orch, WorkerOptions{
		ProviderTimeout: 5 * time.Second,
		Retry:           RetryPolicy{MaxRetries: 3, Base: 4 * time.Second, Factor: 2, Cap: 60 * time.Second},
	})
	return h
}

func (h *harness) addAsset(t *testing.T, seconds float64) *entities.AudioAsset {
	t.Helper()
	asset := &entities.AudioAsset{
		FileName:        "consult.mp3",
		ContentType:     "audio/mpeg",
		SizeBytes:       1024,
		DurationSeconds: seconds,
		ObjectName:      "assets/consult.mp3",
	}
	if err := h.repo.CreateAsset(context.Background(), asset); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if _, err := h.store.Put(context.Background(), asset.ObjectName, []byte("source"), "audio/mpeg"); err != nil {
		t.Fatalf("put asset: %v", err)
	}
	return asset
}

func (h *harness) createJob(t *testing.T, seconds float64) *entities.TranscriptionJob {
	t.Helper()
	asset := h.addAsset(t, seconds)
	id, err := h.orch.CreateJob(context.Background(), dto.CreateJobRequest{AssetRef: asset.ID, Language: "en", Priority: 5})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return h.job(t, id)
}

// run delivers queued tasks, newest retries included, until the queue is empty.
func (h *harness) run(t *testing.T, order func([]queuedTask) []queuedTask) {
	t.Helper()
	for i := 0; i < 100; i++ {
		tasks := h.queue.drain()
		if len(tasks) == 0 {
			return
		}
		if order != nil {
			tasks = order(tasks)
		}
		for _, task := range tasks {
			if err := h.worker.Process(context.Background(), task.Task); err != nil {
				t.Fatalf("Process(%+v) error = %v", task.Task, err)
			}
		}
	}
	t.Fatal("queue did not drain")
}

func (h *harness) job(t *testing.T, id uuid.UUID) *entities.TranscriptionJob {
	t.Helper()
	job, err := h.repo.FindJobById(context.Background(), id)
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	return job
}

var errBoom = errors.New("boom")

func chunkStatuses(t *testing.T, repo repository.JobRepository, job *entities.TranscriptionJob) []constant.ChunkStatus {
	t.Helper()
	chunks, err := repo.GetChunksByJobId(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	out := make([]constant.ChunkStatus, len(chunks))
	for i, c := range chunks {
		out[i] = c.Status
	}
	return out
}
