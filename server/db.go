package main

import (
	"database/sql"
	"time"

	. "github.com/openedtools/quizext/types"
	"github.com/russross/meddler"
)

const schema = `CREATE TABLE IF NOT EXISTS courses (
    id integer PRIMARY KEY AUTOINCREMENT,
    canvas_id integer NOT NULL UNIQUE,
    name text NOT NULL,
    created_at datetime NOT NULL,
    updated_at datetime NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id integer PRIMARY KEY AUTOINCREMENT,
    canvas_id integer NOT NULL UNIQUE,
    sis_id text,
    sortable_name text NOT NULL,
    created_at datetime NOT NULL,
    updated_at datetime NOT NULL
);

CREATE TABLE IF NOT EXISTS quizzes (
    id integer PRIMARY KEY AUTOINCREMENT,
    canvas_id integer NOT NULL,
    course_id integer NOT NULL,
    title text NOT NULL,
    time_limit real,
    created_at datetime NOT NULL,
    updated_at datetime NOT NULL,
    UNIQUE (canvas_id, course_id),
    FOREIGN KEY (course_id) REFERENCES courses (id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS extensions (
    id integer PRIMARY KEY AUTOINCREMENT,
    course_id integer NOT NULL,
    user_id integer NOT NULL,
    percent integer NOT NULL CHECK (percent >= 100),
    active boolean NOT NULL DEFAULT 1,
    created_at datetime NOT NULL,
    updated_at datetime NOT NULL,
    UNIQUE (course_id, user_id),
    FOREIGN KEY (course_id) REFERENCES courses (id) ON DELETE CASCADE,
    FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
);`

func createTables(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// getOrCreateCourse looks up the course with the given remote id, creating
// it if absent. An existing record gets its name refreshed. The unique
// constraint on canvas_id guarantees at most one local record per remote
// course even when jobs race.
func getOrCreateCourse(db *sql.DB, canvasID int64, name string) (*Course, error) {
	course := new(Course)
	err := meddler.QueryRow(db, course, `SELECT * FROM courses WHERE canvas_id = ?`, canvasID)
	if err == sql.ErrNoRows {
		now := time.Now()
		course = &Course{
			CanvasID:  canvasID,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := meddler.Insert(db, "courses", course); err != nil {
			return nil, err
		}
		return course, nil
	}
	if err != nil {
		return nil, err
	}

	if name != "" && course.Name != name {
		course.Name = name
		course.UpdatedAt = time.Now()
		if err := meddler.Update(db, "courses", course); err != nil {
			return nil, err
		}
	}
	return course, nil
}

// getOrCreateUser looks up a user by remote id, creating the record if
// absent and refreshing the name and SIS id if they changed.
func getOrCreateUser(db *sql.DB, canvasID int64, sortableName, sisID string) (*User, error) {
	user := new(User)
	err := meddler.QueryRow(db, user, `SELECT * FROM users WHERE canvas_id = ?`, canvasID)
	if err == sql.ErrNoRows {
		now := time.Now()
		user = &User{
			CanvasID:     canvasID,
			SISID:        sisID,
			SortableName: sortableName,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := meddler.Insert(db, "users", user); err != nil {
			return nil, err
		}
		return user, nil
	}
	if err != nil {
		return nil, err
	}

	if user.SortableName != sortableName || user.SISID != sisID {
		user.SortableName = sortableName
		user.SISID = sisID
		user.UpdatedAt = time.Now()
		if err := meddler.Update(db, "users", user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// getOrCreateExtension looks up the extension for a (course, user) pair,
// creating an inert one (100%, active) if absent. Callers that apply a new
// percent update the record afterward.
func getOrCreateExtension(db *sql.DB, courseID, userID int64) (*Extension, error) {
	extension := new(Extension)
	err := meddler.QueryRow(db, extension,
		`SELECT * FROM extensions WHERE course_id = ? AND user_id = ?`, courseID, userID)
	if err == sql.ErrNoRows {
		now := time.Now()
		extension = &Extension{
			CourseID:  courseID,
			UserID:    userID,
			Percent:   100,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := meddler.Insert(db, "extensions", extension); err != nil {
			return nil, err
		}
		return extension, nil
	}
	if err != nil {
		return nil, err
	}
	return extension, nil
}

// upsertQuiz records the remote state of one quiz. Each quiz is committed
// on its own so a job that dies partway through still leaves the quizzes it
// got to in sync.
func upsertQuiz(db *sql.DB, canvasID, courseID int64, title string, timeLimit *float64) (*Quiz, error) {
	quiz := new(Quiz)
	err := meddler.QueryRow(db, quiz,
		`SELECT * FROM quizzes WHERE canvas_id = ? AND course_id = ?`, canvasID, courseID)
	if err == sql.ErrNoRows {
		now := time.Now()
		quiz = &Quiz{
			CanvasID:  canvasID,
			CourseID:  courseID,
			Title:     title,
			TimeLimit: timeLimit,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := meddler.Insert(db, "quizzes", quiz); err != nil {
			return nil, err
		}
		return quiz, nil
	}
	if err != nil {
		return nil, err
	}

	if quiz.Title != title || !sameTimeLimit(quiz.TimeLimit, timeLimit) {
		quiz.Title = title
		quiz.TimeLimit = timeLimit
		quiz.UpdatedAt = time.Now()
		if err := meddler.Update(db, "quizzes", quiz); err != nil {
			return nil, err
		}
	}
	return quiz, nil
}

func sameTimeLimit(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// missingOrStaleQuizzes compares the remote quiz list against the local
// mirror and returns the quizzes that are absent locally or whose time
// limit changed. With quickCheck set it returns as soon as one difference
// is found, so the result is a boolean in list form.
func missingOrStaleQuizzes(db *sql.DB, canvas *CanvasClient, course *Course, quickCheck bool) ([]CanvasQuiz, error) {
	local := []*Quiz{}
	if err := meddler.QueryAll(db, &local, `SELECT * FROM quizzes WHERE course_id = ?`, course.ID); err != nil {
		return nil, err
	}
	known := make(map[int64]*Quiz)
	for _, quiz := range local {
		known[quiz.CanvasID] = quiz
	}

	out := []CanvasQuiz{}
	for _, remote := range canvas.FetchQuizzes(course.CanvasID) {
		quiz, present := known[remote.ID]
		if present && sameTimeLimit(quiz.TimeLimit, remote.TimeLimit) {
			continue
		}
		out = append(out, remote)
		if quickCheck {
			break
		}
	}
	return out, nil
}

// courseExtensions returns every extension for a course, active or not,
// along with the user record for each.
func courseExtensions(db *sql.DB, courseID int64) ([]*Extension, map[int64]*User, error) {
	extensions := []*Extension{}
	err := meddler.QueryAll(db, &extensions,
		`SELECT * FROM extensions WHERE course_id = ?`, courseID)
	if err != nil {
		return nil, nil, err
	}

	users := make(map[int64]*User)
	for _, extension := range extensions {
		user := new(User)
		if err := meddler.Load(db, "users", user, extension.UserID); err != nil {
			return nil, nil, err
		}
		users[extension.UserID] = user
	}
	return extensions, users, nil
}

// updateExtension persists a changed percent on an existing extension.
func updateExtension(db *sql.DB, extension *Extension) error {
	extension.UpdatedAt = time.Now()
	return meddler.Update(db, "extensions", extension)
}

func deactivateExtension(db *sql.DB, extension *Extension) error {
	extension.Active = false
	extension.UpdatedAt = time.Now()
	return meddler.Update(db, "extensions", extension)
}

// findCourse looks up a course by remote id without creating it. Returns
// sql.ErrNoRows when the course has never had a job run against it.
func findCourse(db *sql.DB, canvasID int64) (*Course, error) {
	course := new(Course)
	if err := meddler.QueryRow(db, course, `SELECT * FROM courses WHERE canvas_id = ?`, canvasID); err != nil {
		return nil, err
	}
	return course, nil
}

// countExtensions reports how many users have ever held an extension in
// the course, active or not.
func countExtensions(db *sql.DB, courseID int64) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(1) FROM extensions WHERE course_id = ?`, courseID).Scan(&n)
	return n, err
}
