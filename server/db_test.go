package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCourse(t *testing.T) {
	db := newTestDB(t)

	course, err := getOrCreateCourse(db, 101, "Intro to Weaving")
	require.NoError(t, err)
	assert.Equal(t, int64(101), course.CanvasID)
	assert.Equal(t, "Intro to Weaving", course.Name)

	// a second call finds the same record
	again, err := getOrCreateCourse(db, 101, "Intro to Weaving")
	require.NoError(t, err)
	assert.Equal(t, course.ID, again.ID)

	// the name refreshes when it changed upstream
	renamed, err := getOrCreateCourse(db, 101, "Advanced Weaving")
	require.NoError(t, err)
	assert.Equal(t, course.ID, renamed.ID)
	assert.Equal(t, "Advanced Weaving", renamed.Name)

	// an empty name leaves the stored name alone
	kept, err := getOrCreateCourse(db, 101, "")
	require.NoError(t, err)
	assert.Equal(t, "Advanced Weaving", kept.Name)
}

func TestGetOrCreateUser(t *testing.T) {
	db := newTestDB(t)

	user, err := getOrCreateUser(db, 42, "Canvas, John", "jc12345")
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.CanvasID)
	assert.Equal(t, "jc12345", user.SISID)

	again, err := getOrCreateUser(db, 42, "Canvas, Jonathon", "jc12345")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, "Canvas, Jonathon", again.SortableName)
}

func TestGetOrCreateExtensionDefaults(t *testing.T) {
	db := newTestDB(t)

	course, err := getOrCreateCourse(db, 101, "Test Course")
	require.NoError(t, err)
	user, err := getOrCreateUser(db, 42, "Canvas, John", "")
	require.NoError(t, err)

	extension, err := getOrCreateExtension(db, course.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, extension.Percent)
	assert.True(t, extension.Active)

	extension.Percent = 150
	require.NoError(t, updateExtension(db, extension))

	again, err := getOrCreateExtension(db, course.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, extension.ID, again.ID)
	assert.Equal(t, 150, again.Percent)
}

func TestUpsertQuiz(t *testing.T) {
	db := newTestDB(t)

	course, err := getOrCreateCourse(db, 101, "Test Course")
	require.NoError(t, err)

	quiz, err := upsertQuiz(db, 7, course.ID, "Midterm", timeLimit(60))
	require.NoError(t, err)
	require.NotNil(t, quiz.TimeLimit)
	assert.Equal(t, 60.0, *quiz.TimeLimit)

	// same quiz, new time limit
	updated, err := upsertQuiz(db, 7, course.ID, "Midterm", timeLimit(90))
	require.NoError(t, err)
	assert.Equal(t, quiz.ID, updated.ID)
	assert.Equal(t, 90.0, *updated.TimeLimit)

	// time limit removed entirely
	untimed, err := upsertQuiz(db, 7, course.ID, "Midterm", nil)
	require.NoError(t, err)
	assert.Equal(t, quiz.ID, untimed.ID)
	assert.Nil(t, untimed.TimeLimit)
}

func TestSameTimeLimit(t *testing.T) {
	assert.True(t, sameTimeLimit(nil, nil))
	assert.True(t, sameTimeLimit(timeLimit(30), timeLimit(30)))
	assert.False(t, sameTimeLimit(nil, timeLimit(30)))
	assert.False(t, sameTimeLimit(timeLimit(30), nil))
	assert.False(t, sameTimeLimit(timeLimit(30), timeLimit(45)))
}

func TestPercentCheckConstraint(t *testing.T) {
	db := newTestDB(t)

	course, err := getOrCreateCourse(db, 101, "Test Course")
	require.NoError(t, err)
	user, err := getOrCreateUser(db, 42, "Canvas, John", "")
	require.NoError(t, err)
	extension, err := getOrCreateExtension(db, course.ID, user.ID)
	require.NoError(t, err)

	extension.Percent = 50
	assert.Error(t, updateExtension(db, extension))
}

func TestMissingOrStaleQuizzes(t *testing.T) {
	db := newTestDB(t)

	course, err := getOrCreateCourse(db, 101, "Test Course")
	require.NoError(t, err)

	// quiz 1 is in sync, quiz 2 has a changed time limit, quiz 3 is new
	_, err = upsertQuiz(db, 1, course.ID, "Quiz One", timeLimit(30))
	require.NoError(t, err)
	_, err = upsertQuiz(db, 2, course.ID, "Quiz Two", timeLimit(45))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101/quizzes", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "title": "Quiz One", "time_limit": 30},
			{"id": 2, "title": "Quiz Two", "time_limit": 60},
			{"id": 3, "title": "Quiz Three", "time_limit": null}
		]`)
	})
	canvas := newFakeCanvas(t, mux)

	quizzes, err := missingOrStaleQuizzes(db, canvas, course, false)
	require.NoError(t, err)
	require.Len(t, quizzes, 2)
	assert.Equal(t, int64(2), quizzes[0].ID)
	assert.Equal(t, int64(3), quizzes[1].ID)

	// quickcheck stops at the first hit
	quizzes, err = missingOrStaleQuizzes(db, canvas, course, true)
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
}

func TestFindCourse(t *testing.T) {
	db := newTestDB(t)

	_, err := findCourse(db, 999)
	assert.Equal(t, sql.ErrNoRows, err)

	created, err := getOrCreateCourse(db, 999, "Test Course")
	require.NoError(t, err)
	found, err := findCourse(db, 999)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func TestCountExtensions(t *testing.T) {
	db := newTestDB(t)

	course, err := getOrCreateCourse(db, 101, "Test Course")
	require.NoError(t, err)
	n, err := countExtensions(db, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	user, err := getOrCreateUser(db, 42, "Canvas, John", "")
	require.NoError(t, err)
	extension, err := getOrCreateExtension(db, course.ID, user.ID)
	require.NoError(t, err)

	// deactivated extensions still count
	require.NoError(t, deactivateExtension(db, extension))
	n, err = countExtensions(db, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
