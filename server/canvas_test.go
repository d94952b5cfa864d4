package main

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	. "github.com/openedtools/quizext/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCourse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer testtoken", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id": 101, "name": "Test Course"}`)
	})
	canvas := newFakeCanvas(t, mux)

	course, err := canvas.FetchCourse(101)
	require.NoError(t, err)
	assert.Equal(t, int64(101), course.ID)
	assert.Equal(t, "Test Course", course.Name)
}

func TestFetchCourseNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	canvas := newFakeCanvas(t, mux)

	_, err := canvas.FetchCourse(101)
	require.Error(t, err)
	var canvasErr *CanvasError
	require.True(t, errors.As(err, &canvasErr))
	assert.Equal(t, http.StatusNotFound, canvasErr.StatusCode)
}

func TestFetchUserIncludesEnrollments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101/users/42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "enrollments", r.URL.Query().Get("include[]"))
		fmt.Fprint(w, `{"id": 42, "sortable_name": "Canvas, John",
			"enrollments": [{"type": "StudentEnrollment", "enrollment_state": "active"}]}`)
	})
	canvas := newFakeCanvas(t, mux)

	user, err := canvas.FetchUser(101, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
	assert.True(t, user.IsActiveStudent())
}

func TestFetchQuizzesFollowsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101/quizzes", func(w http.ResponseWriter, r *http.Request) {
		next := fmt.Sprintf("http://%s/api/v1/courses/101/quizzes_page2", r.Host)
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next", <%s>; rel="last"`, next, next))
		fmt.Fprint(w, `[{"id": 1, "title": "Quiz One", "time_limit": 30}]`)
	})
	mux.HandleFunc("/api/v1/courses/101/quizzes_page2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": 2, "title": "Quiz Two", "time_limit": null}]`)
	})
	canvas := newFakeCanvas(t, mux)

	quizzes := canvas.FetchQuizzes(101)
	require.Len(t, quizzes, 2)
	assert.Equal(t, int64(1), quizzes[0].ID)
	assert.Equal(t, int64(2), quizzes[1].ID)
	assert.Nil(t, quizzes[1].TimeLimit)
}

func TestFetchQuizzesErrorYieldsEmptyList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101/quizzes", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors": [{"message": "unauthorized"}]}`, http.StatusUnauthorized)
	})
	canvas := newFakeCanvas(t, mux)

	assert.Empty(t, canvas.FetchQuizzes(101))
}

func TestSearchUsers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101/search_users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "student", r.URL.Query().Get("enrollment_type"))
		assert.Equal(t, "smith", r.URL.Query().Get("search_term"))
		last := fmt.Sprintf("http://%s/api/v1/courses/101/search_users?page=5&per_page=10", r.Host)
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="last"`, last))
		fmt.Fprint(w, `[{"id": 7, "sortable_name": "Smith, Jane"}]`)
	})
	canvas := newFakeCanvas(t, mux)

	users, numPages := canvas.SearchUsers(101, 10, 1, "smith")
	require.Len(t, users, 1)
	assert.Equal(t, "Smith, Jane", users[0].SortableName)
	assert.Equal(t, 5, numPages)
}

func TestSearchUsersError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101/search_users", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors": "bad request"}`, http.StatusBadRequest)
	})
	canvas := newFakeCanvas(t, mux)

	users, numPages := canvas.SearchUsers(101, 10, 1, "")
	assert.Empty(t, users)
	assert.Equal(t, 0, numPages)
}

func TestCreateQuizExtensionsStatusCodes(t *testing.T) {
	status := http.StatusOK
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101/quizzes/7/extensions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(status)
	})
	canvas := newFakeCanvas(t, mux)

	pairs := []UserExtraTime{{UserID: 1, ExtraTime: 30}}
	ok, code := canvas.CreateQuizExtensions(101, 7, pairs)
	assert.True(t, ok)
	assert.Equal(t, http.StatusOK, code)

	status = http.StatusForbidden
	ok, code = canvas.CreateQuizExtensions(101, 7, pairs)
	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestFetchEnrollments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/101/enrollments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("user_id"))
		assert.Equal(t, []string{"TeacherEnrollment", "TaEnrollment", "DesignerEnrollment"}, r.URL.Query()["type[]"])
		fmt.Fprint(w, `[{"type": "TeacherEnrollment", "enrollment_state": "active"}]`)
	})
	canvas := newFakeCanvas(t, mux)

	enrollments, err := canvas.FetchEnrollments(101, 42, staffRoles)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, "TeacherEnrollment", enrollments[0].Type)
}

func TestParseLink(t *testing.T) {
	header := `<https://example.edu/api/v1/courses/1/quizzes?page=2>; rel="next", ` +
		`<https://example.edu/api/v1/courses/1/quizzes?page=9>; rel="last"`
	assert.Equal(t, "https://example.edu/api/v1/courses/1/quizzes?page=2", parseLink(header, "next"))
	assert.Equal(t, "https://example.edu/api/v1/courses/1/quizzes?page=9", parseLink(header, "last"))
	assert.Equal(t, "", parseLink(header, "prev"))
	assert.Equal(t, "", parseLink("", "next"))
}
