package types

import "time"

const CookieName = "quizext"

// Course is a local mirror of an LMS course that has had at least one
// reconciliation job run against it. The name is refreshed on every run.
type Course struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	CanvasID  int64     `json:"canvasID" meddler:"canvas_id"`
	Name      string    `json:"name" meddler:"name"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// User is a local mirror of an LMS user that has been granted an extension.
type User struct {
	ID           int64     `json:"id" meddler:"id,pk"`
	CanvasID     int64     `json:"canvasID" meddler:"canvas_id"`
	SISID        string    `json:"sisID" meddler:"sis_id,zeroisnull"`
	SortableName string    `json:"sortableName" meddler:"sortable_name"`
	CreatedAt    time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt    time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// Quiz is a local mirror of an LMS quiz. TimeLimit mirrors the remote value
// in minutes and is nil for untimed quizzes; a difference between the stored
// and remote values marks the quiz as stale for the refresh job.
type Quiz struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	CanvasID  int64     `json:"canvasID" meddler:"canvas_id"`
	CourseID  int64     `json:"courseID" meddler:"course_id"`
	Title     string    `json:"title" meddler:"title"`
	TimeLimit *float64  `json:"timeLimit" meddler:"time_limit"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// Extension is a standing entitlement: the user gets Percent% time on every
// timed quiz in the course. 100 means no change. Deactivated, never deleted,
// when the user leaves the course or stops being a student.
//
// The schema declares CHECK(percent >= 100) but job code stores the percent
// as given; sub-100 values submitted through other write paths are rejected
// by the constraint, not by the engine.
type Extension struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	CourseID  int64     `json:"courseID" meddler:"course_id"`
	UserID    int64     `json:"userID" meddler:"user_id"`
	Percent   int       `json:"percent" meddler:"percent"`
	Active    bool      `json:"active" meddler:"active"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}
