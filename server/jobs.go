package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	. "github.com/openedtools/quizext/types"
)

// jobExpiry is how long a finished or abandoned job record remains
// queryable before the store may discard it.
const jobExpiry = 24 * time.Hour

// JobStore persists job records so progress can be polled across requests
// and, with the redis store, across server processes. Get returns
// (nil, nil) for an unknown or expired key.
type JobStore interface {
	Put(record *JobRecord) error
	Get(key string) (*JobRecord, error)
	Ping() error
}

//
// in-memory store
//

type memoryJobStore struct {
	mutex   sync.Mutex
	records map[string]*JobRecord
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{records: make(map[string]*JobRecord)}
}

func (store *memoryJobStore) Put(record *JobRecord) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	// copy so later mutations by the job goroutine do not bleed into reads
	elt := new(JobRecord)
	*elt = *record
	store.records[record.Key] = elt
	return nil
}

func (store *memoryJobStore) Get(key string) (*JobRecord, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	record, present := store.records[key]
	if !present {
		return nil, nil
	}
	if time.Since(record.CreatedAt) > jobExpiry {
		delete(store.records, key)
		return nil, nil
	}
	elt := new(JobRecord)
	*elt = *record
	return elt, nil
}

func (store *memoryJobStore) Ping() error {
	return nil
}

//
// redis store
//

type redisJobStore struct {
	client *redis.Client
}

func newRedisJobStore(rawurl string) (*redisJobStore, error) {
	options, err := redis.ParseURL(rawurl)
	if err != nil {
		return nil, err
	}
	store := &redisJobStore{client: redis.NewClient(options)}
	if err := store.Ping(); err != nil {
		return nil, err
	}
	return store, nil
}

func redisJobKey(key string) string {
	return "quizext:job:" + key
}

func (store *redisJobStore) Put(record *JobRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.client.Set(context.Background(), redisJobKey(record.Key), raw, jobExpiry).Err()
}

func (store *redisJobStore) Get(key string) (*JobRecord, error) {
	raw, err := store.client.Get(context.Background(), redisJobKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := new(JobRecord)
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (store *redisJobStore) Ping() error {
	return store.client.Ping(context.Background()).Err()
}

//
// job handle
//

// Job is the handle a running job function uses to publish progress. Every
// Report call writes through to the store immediately so pollers see it.
type Job struct {
	record *JobRecord
	store  JobStore
}

func newJob(store JobStore) (*Job, error) {
	job := &Job{
		record: &JobRecord{
			Key:       makeJobKey(),
			Meta:      JobMeta{Status: JobStarted, StatusMsg: "", Percent: 0, Error: false},
			CreatedAt: time.Now(),
		},
		store: store,
	}
	if err := store.Put(job.record); err != nil {
		return nil, err
	}
	return job, nil
}

func (job *Job) Key() string {
	return job.record.Key
}

// Report publishes a new progress snapshot, replacing the previous one.
func (job *Job) Report(status, statusMsg string, percent int, isError bool) {
	job.record.Meta = JobMeta{
		Status:    status,
		StatusMsg: statusMsg,
		Percent:   percent,
		Error:     isError,
	}
	if err := job.store.Put(job.record); err != nil {
		logger.Errorf("error saving job %s: %v", job.record.Key, err)
	}
}

// AttachLists stores the per-quiz results of an update job so the final
// poll can return them alongside the meta.
func (job *Job) AttachLists(quizList []QuizTime, unchangedList []QuizTitle) {
	job.record.QuizList = quizList
	job.record.UnchangedList = unchangedList
}

func (job *Job) finish() {
	job.record.Finished = true
	if err := job.store.Put(job.record); err != nil {
		logger.Errorf("error saving job %s: %v", job.record.Key, err)
	}
}

func (job *Job) crash() {
	job.record.Crashed = true
	if err := job.store.Put(job.record); err != nil {
		logger.Errorf("error saving job %s: %v", job.record.Key, err)
	}
}

//
// worker pool
//

// JobQueue runs job functions on a fixed pool of workers. Tasks queued by
// a single EnqueueChain call run in order on one worker; independent tasks
// run concurrently up to the pool size.
type JobQueue struct {
	store   JobStore
	tasks   chan func()
	workers int
}

func newJobQueue(store JobStore, workers, backlog int) *JobQueue {
	if workers < 1 {
		workers = 1
	}
	queue := &JobQueue{
		store:   store,
		tasks:   make(chan func(), backlog),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		go queue.work()
	}
	return queue
}

func (queue *JobQueue) work() {
	for task := range queue.tasks {
		task()
	}
}

func (queue *JobQueue) Workers() int {
	return queue.workers
}

// Enqueue creates a job record and schedules fn to run against it,
// returning the job key for polling.
func (queue *JobQueue) Enqueue(fn func(job *Job) error) (string, error) {
	job, err := newJob(queue.store)
	if err != nil {
		return "", err
	}
	queue.tasks <- func() {
		queue.run(job, fn)
	}
	return job.Key(), nil
}

// EnqueueChain schedules the functions to run back to back on a single
// worker, each with its own job record. Later functions run even when an
// earlier one reported a failed status, but a crash stops the chain and
// leaves the remaining job records in their initial state.
func (queue *JobQueue) EnqueueChain(fns ...func(job *Job) error) ([]string, error) {
	jobs := make([]*Job, len(fns))
	keys := make([]string, len(fns))
	for i := range fns {
		job, err := newJob(queue.store)
		if err != nil {
			return nil, err
		}
		jobs[i] = job
		keys[i] = job.Key()
	}
	queue.tasks <- func() {
		for i, fn := range fns {
			queue.run(jobs[i], fn)
			if jobs[i].record.Crashed {
				break
			}
		}
	}
	return keys, nil
}

// run executes one job function, translating a panic or a returned error
// into the crashed state and a normal return into the finished state.
func (queue *JobQueue) run(job *Job, fn func(job *Job) error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("job %s panicked: %v", job.Key(), r)
			job.crash()
		}
	}()
	if err := fn(job); err != nil {
		logger.Errorf("job %s crashed: %v", job.Key(), err)
		job.crash()
		return
	}
	job.finish()
}

const keyCharSet = "abcdefghjkmnpqrstvwxyz0123456789"

// makeJobKey generates a short random key for polling a job.
func makeJobKey() string {
	key := ""
	for i := 0; i < 12; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyCharSet))))
		if err != nil {
			logger.Fatalf("error generating random job key: %v", err)
		}
		key += string(keyCharSet[n.Int64()])
	}
	return key
}

// jobURL is the polling path for a job key.
func jobURL(key string) string {
	return fmt.Sprintf("/jobs/%s", key)
}
