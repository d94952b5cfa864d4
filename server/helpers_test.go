package main

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	. "github.com/openedtools/quizext/types"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := setupDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, createTables(db))
	t.Cleanup(func() { db.Close() })
	return db
}

// newFakeCanvas serves mux as a stand-in LMS and returns a client pointed
// at it.
func newFakeCanvas(t *testing.T, mux *http.ServeMux) *CanvasClient {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewCanvasClient(server.URL+"/api/v1/", "testtoken", 100)
}

// startJob creates a fresh job record for driving a job function directly.
func startJob(t *testing.T, store JobStore) *Job {
	t.Helper()
	job, err := newJob(store)
	require.NoError(t, err)
	return job
}

// waitForJob polls the store until the job reaches a terminal state.
func waitForJob(t *testing.T, store JobStore, key string) *JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := store.Get(key)
		require.NoError(t, err)
		if record != nil && (record.Finished || record.Crashed) {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", key)
	return nil
}

func timeLimit(minutes float64) *float64 {
	return &minutes
}
