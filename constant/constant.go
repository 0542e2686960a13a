package constant

type JobStatus string

const (
	JobStatusPending             JobStatus = "PENDING"
	JobStatusChunking            JobStatus = "CHUNKING"
	JobStatusProcessing          JobStatus = "PROCESSING"
	JobStatusMerging             JobStatus = "MERGING"
	JobStatusCompleted           JobStatus = "COMPLETED"
	JobStatusCompletedWithErrors JobStatus = "COMPLETED_WITH_ERRORS"
	JobStatusFailed              JobStatus = "FAILED"
	JobStatusCancelling          JobStatus = "CANCELLING"
	JobStatusCancelled           JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusChunking, JobStatusFailed, JobStatusCancelling},
	JobStatusChunking:   {JobStatusProcessing, JobStatusFailed, JobStatusCancelling},
	JobStatusProcessing: {JobStatusMerging, JobStatusCancelling},
	JobStatusMerging:    {JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed},
	JobStatusCancelling: {JobStatusCancelled},
}

// CanTransition enforces the one-directional job state machine.
func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range jobTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "PENDING"
	ChunkStatusProcessing ChunkStatus = "PROCESSING"
	ChunkStatusSucceeded  ChunkStatus = "SUCCEEDED"
	ChunkStatusFailed     ChunkStatus = "FAILED"
	ChunkStatusExhausted  ChunkStatus = "EXHAUSTED"
)

// IsSettled reports whether the chunk reached a terminal state.
func (s ChunkStatus) IsSettled() bool {
	return s == ChunkStatusSucceeded || s == ChunkStatusFailed || s == ChunkStatusExhausted
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

const (
	TranscriptionExchange      = "transcription_exchange"
	TranscriptionQueue         = "transcription_queue"
	TranscriptionRoutingKey    = "transcription.chunk"
	TranscriptionDLX           = "transcription_exchange_dlx"
	TranscriptionDLQ           = "transcription_queue_dlq"
	TranscriptionDLQRouting    = "dlq.transcription.chunk"
	TranscriptionRetryExchange = "transcription_retry_exchange"
	TranscriptionRetryQueue    = "transcription_retry_queue"
	MaxTaskPriority            = 9
)
