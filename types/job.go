package types

import "time"

// Job states. A job moves started -> processing (repeatedly) and ends at
// complete or failed; both are terminal. There is no cancelled state.
const (
	JobStarted    = "started"
	JobProcessing = "processing"
	JobComplete   = "complete"
	JobFailed     = "failed"
)

// JobMeta is the progress snapshot polled while a job runs. Each report
// overwrites the previous one. StatusMsg is the primary error channel; its
// text is part of the tool's contract.
type JobMeta struct {
	Status    string `json:"status"`
	StatusMsg string `json:"status_msg"`
	Percent   int    `json:"percent"`
	Error     bool   `json:"error"`
}

// QuizTime records one quiz that had time added during an update job.
type QuizTime struct {
	Title     string `json:"title"`
	AddedTime int    `json:"added_time"`
}

// QuizTitle records one quiz that was left unchanged (no time limit).
type QuizTitle struct {
	Title string `json:"title"`
}

// JobRecord is the full state of one queued job. Finished marks a normal
// return (including jobs that ended in the failed status); Crashed marks a
// job whose goroutine panicked before reaching a terminal state.
type JobRecord struct {
	Key           string      `json:"key"`
	Meta          JobMeta     `json:"meta"`
	Finished      bool        `json:"finished"`
	Crashed       bool        `json:"crashed"`
	QuizList      []QuizTime  `json:"quiz_list,omitempty"`
	UnchangedList []QuizTitle `json:"unchanged_list,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// JobResult is the payload rendered for a finished job: the final meta plus
// the per-quiz result lists from an update job.
type JobResult struct {
	JobMeta
	QuizList      []QuizTime  `json:"quiz_list,omitempty"`
	UnchangedList []QuizTitle `json:"unchanged_list,omitempty"`
}

func (record *JobRecord) Result() *JobResult {
	return &JobResult{
		JobMeta:       record.Meta,
		QuizList:      record.QuizList,
		UnchangedList: record.UnchangedList,
	}
}
