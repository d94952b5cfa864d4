package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	. "github.com/openedtools/quizext/types"
)

// CanvasClient wraps the LMS REST API. It is constructed once and passed to
// everything that talks to the LMS; there is no package-level connection
// state.
type CanvasClient struct {
	BaseURL    string // ends with a slash, e.g. "https://canvas.example.edu/api/v1/"
	Token      string
	MaxPerPage int
	client     *http.Client
}

func NewCanvasClient(baseURL, token string, maxPerPage int) *CanvasClient {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &CanvasClient{
		BaseURL:    baseURL,
		Token:      token,
		MaxPerPage: maxPerPage,
		client:     http.DefaultClient,
	}
}

// CanvasError reports a non-2xx response from the LMS API.
type CanvasError struct {
	StatusCode int
	URL        string
}

func (e *CanvasError) Error() string {
	return fmt.Sprintf("canvas returned status %d for %s", e.StatusCode, e.URL)
}

// get issues a single authenticated GET and decodes the body into target.
// Any non-2xx status is returned as a *CanvasError; callers decide per call
// site whether that is fatal.
func (c *CanvasClient) get(rawurl string, target interface{}) (*http.Response, error) {
	req, err := http.NewRequest("GET", rawurl, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return resp, &CanvasError{StatusCode: resp.StatusCode, URL: rawurl}
	}
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return resp, fmt.Errorf("error decoding response from %s: %v", rawurl, err)
		}
	}
	return resp, nil
}

// FetchCourse gets a single course by its remote id.
func (c *CanvasClient) FetchCourse(courseID int64) (*CanvasCourse, error) {
	course := new(CanvasCourse)
	if _, err := c.get(fmt.Sprintf("%scourses/%d", c.BaseURL, courseID), course); err != nil {
		return nil, err
	}
	return course, nil
}

// FetchUser gets a single user scoped to a course, including the user's
// enrollments in that course.
func (c *CanvasClient) FetchUser(courseID, userID int64) (*CanvasUser, error) {
	user := new(CanvasUser)
	rawurl := fmt.Sprintf("%scourses/%d/users/%d?include[]=enrollments", c.BaseURL, courseID, userID)
	if _, err := c.get(rawurl, user); err != nil {
		return nil, err
	}
	return user, nil
}

// FetchQuizzes lists every quiz in a course, following pagination links
// until the last page. An error-shaped body or a failed request ends the
// walk, and whatever accumulated so far is returned: an error on the first
// page yields an empty list, which callers treat as a course with no
// quizzes rather than a fatal condition.
func (c *CanvasClient) FetchQuizzes(courseID int64) []CanvasQuiz {
	quizzes := []CanvasQuiz{}
	next := fmt.Sprintf("%scourses/%d/quizzes?per_page=%d", c.BaseURL, courseID, c.MaxPerPage)

	for next != "" {
		req, err := http.NewRequest("GET", next, nil)
		if err != nil {
			break
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		resp, err := c.client.Do(req)
		if err != nil {
			logger.Warningf("error listing quizzes for course #%d: %v", courseID, err)
			break
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			logger.Warningf("error reading quiz list for course #%d: %v", courseID, err)
			break
		}

		page := []CanvasQuiz{}
		if err := json.Unmarshal(raw, &page); err != nil {
			// error-shaped body; stop and return what we have
			break
		}
		quizzes = append(quizzes, page...)

		next = parseLink(resp.Header.Get("Link"), "next")
	}

	return quizzes
}

// SearchUsers returns one page of students in the course matching the
// search term (all students when the term is empty), plus the total number
// of pages as reported by the rel="last" pagination link. Total pages is 0
// when the link is absent or the response is error-shaped.
func (c *CanvasClient) SearchUsers(courseID int64, perPage, page int, searchTerm string) ([]CanvasUser, int) {
	v := make(url.Values)
	v.Set("per_page", strconv.Itoa(perPage))
	v.Set("page", strconv.Itoa(page))
	v.Set("enrollment_type", "student")
	if searchTerm != "" {
		v.Set("search_term", searchTerm)
	}
	rawurl := fmt.Sprintf("%scourses/%d/search_users?%s", c.BaseURL, courseID, v.Encode())

	req, err := http.NewRequest("GET", rawurl, nil)
	if err != nil {
		return []CanvasUser{}, 0
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	resp, err := c.client.Do(req)
	if err != nil {
		logger.Errorf("error getting user list from canvas: %v", err)
		return []CanvasUser{}, 0
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		logger.Errorf("error reading user list from canvas: %v", err)
		return []CanvasUser{}, 0
	}

	users := []CanvasUser{}
	if err := json.Unmarshal(raw, &users); err != nil {
		logger.Errorf("error getting user list from canvas: status %d, body %s", resp.StatusCode, raw)
		return []CanvasUser{}, 0
	}

	numPages := 0
	if last := parseLink(resp.Header.Get("Link"), "last"); last != "" {
		if parsed, err := url.Parse(last); err == nil {
			if n, err := strconv.Atoi(parsed.Query().Get("page")); err == nil {
				numPages = n
			}
		}
	}

	return users, numPages
}

// CreateQuizExtensions posts one batch of per-user extra time values for a
// single quiz. It reports success and the response status code rather than
// returning an error; the reconciliation engine decides what a failure
// means.
func (c *CanvasClient) CreateQuizExtensions(courseID, quizID int64, pairs []UserExtraTime) (bool, int) {
	payload := map[string][]UserExtraTime{"quiz_extensions": pairs}
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("error marshaling extensions for quiz #%d: %v", quizID, err)
		return false, 0
	}

	rawurl := fmt.Sprintf("%scourses/%d/quizzes/%d/extensions", c.BaseURL, courseID, quizID)
	req, err := http.NewRequest("POST", rawurl, bytes.NewReader(raw))
	if err != nil {
		return false, 0
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Errorf("error creating extensions for quiz #%d: %v", quizID, err)
		return false, 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK, resp.StatusCode
}

// FetchEnrollments lists a user's enrollments of the given types in a
// course. Used by the staff guard.
func (c *CanvasClient) FetchEnrollments(courseID, userID int64, kinds []string) ([]CanvasEnrollment, error) {
	v := make(url.Values)
	v.Set("user_id", strconv.FormatInt(userID, 10))
	for _, kind := range kinds {
		v.Add("type[]", kind)
	}
	rawurl := fmt.Sprintf("%scourses/%d/enrollments?%s", c.BaseURL, courseID, v.Encode())

	enrollments := []CanvasEnrollment{}
	if _, err := c.get(rawurl, &enrollments); err != nil {
		return nil, err
	}
	return enrollments, nil
}

var linkPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="([^"]+)"`)

// parseLink pulls the URL with the given rel out of a pagination Link
// header, returning "" if absent.
func parseLink(header, rel string) string {
	for _, match := range linkPattern.FindAllStringSubmatch(header, -1) {
		if match[2] == rel {
			return match[1]
		}
	}
	return ""
}
