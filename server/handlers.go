package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	. "github.com/openedtools/quizext/types"
)

// GetIndex is a placeholder landing page; the tool is only reachable
// through an LTI launch.
func GetIndex(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Please contact your System Administrator.")
}

// GetStatus runs smoke tests and reports tool health.
func GetStatus(db *sql.DB, store JobStore, queue *JobQueue, render render.Render) {
	checks := map[string]bool{
		"db":        false,
		"job_store": false,
		"worker":    false,
	}

	var one int
	if err := db.QueryRow(`SELECT 1`).Scan(&one); err == nil && one == 1 {
		checks["db"] = true
	} else if err != nil {
		logger.Errorf("status check: database error: %v", err)
	}

	if err := store.Ping(); err == nil {
		checks["job_store"] = true
	} else {
		logger.Errorf("status check: job store error: %v", err)
	}

	checks["worker"] = queue.Workers() > 0

	healthy := true
	for _, ok := range checks {
		healthy = healthy && ok
	}

	render.JSON(http.StatusOK, map[string]interface{}{
		"tool":    Config.ToolName,
		"checks":  checks,
		"healthy": healthy,
	})
}

const configXMLTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<cartridge_basiclti_link xmlns="http://www.imsglobal.org/xsd/imslticc_v1p0"
    xmlns:blti="http://www.imsglobal.org/xsd/imsbasiclti_v1p0"
    xmlns:lticm="http://www.imsglobal.org/xsd/imslticm_v1p0"
    xmlns:lticp="http://www.imsglobal.org/xsd/imslticp_v1p0">
    <blti:title>%s</blti:title>
    <blti:description>Gives selected students extra time on every timed quiz in a course.</blti:description>
    <blti:launch_url>https://%s/launch</blti:launch_url>
    <blti:extensions platform="canvas.instructure.com">
        <lticm:property name="tool_id">%s</lticm:property>
        <lticm:property name="privacy_level">public</lticm:property>
        <lticm:property name="domain">%s</lticm:property>
        <lticm:options name="course_navigation">
            <lticm:property name="url">https://%s/launch</lticm:property>
            <lticm:property name="text">%s</lticm:property>
            <lticm:property name="visibility">admins</lticm:property>
            <lticm:property name="default">disabled</lticm:property>
            <lticm:property name="enabled">true</lticm:property>
        </lticm:options>
    </blti:extensions>
</cartridge_basiclti_link>
`

// GetConfigXML serves the LTI cartridge the LMS admin pastes in when
// installing the tool.
func GetConfigXML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, configXMLTemplate,
		Config.ToolName,
		Config.Hostname,
		Config.ToolID,
		Config.Hostname,
		Config.Hostname,
		Config.ToolName)
}

// GetQuizPage returns the state the front end needs to render the main
// tool page for a course.
func GetQuizPage(w http.ResponseWriter, params martini.Params, render render.Render) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}
	render.JSON(http.StatusOK, map[string]interface{}{
		"course_id":           courseID,
		"current_page_number": 1,
	})
}

// GetFilter returns one page of students in the course matching the
// search query, for the student picker.
func GetFilter(w http.ResponseWriter, r *http.Request, params martini.Params, canvas *CanvasClient, render render.Render) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	query := strings.ToLower(r.FormValue("query"))
	page := 1
	if n, err := strconv.Atoi(r.FormValue("page")); err == nil && n > 0 {
		page = n
	}
	perPage := Config.DefaultPerPage
	if n, err := strconv.Atoi(r.FormValue("per_page")); err == nil && n > 0 {
		perPage = n
	}

	users, maxPages := canvas.SearchUsers(courseID, perPage, page, query)
	if len(users) == 0 || maxPages < 1 {
		users = []CanvasUser{}
		maxPages = 1
	}

	render.JSON(http.StatusOK, map[string]interface{}{
		"users":               users,
		"current_page_number": page,
		"max_pages":           maxPages,
	})
}

// PostRefresh queues a refresh job for the course and returns the polling
// URL immediately.
func PostRefresh(w http.ResponseWriter, params martini.Params, db *sql.DB, canvas *CanvasClient, queue *JobQueue, render render.Render) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	key, err := queue.Enqueue(func(job *Job) error {
		return refreshJob(db, canvas, job, courseID)
	})
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error queueing refresh job: %v", err)
		return
	}

	render.JSON(http.StatusAccepted, map[string]string{
		"refresh_job_url": jobURL(key),
	})
}

// PostUpdate queues a refresh job followed by an update job for the
// course. The refresh runs first so stale quizzes are extended at the old
// percents before the new ones apply; the update runs either way.
func PostUpdate(w http.ResponseWriter, r *http.Request, params martini.Params, db *sql.DB, canvas *CanvasClient, queue *JobQueue, render render.Render) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	// a bad body is not rejected here; the job reports it as an invalid
	// request so the failure is visible through the normal polling channel
	payload := new(UpdatePayload)
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		logger.Warningf("error decoding update payload for course #%d: %v", courseID, err)
		payload = nil
	}

	keys, err := queue.EnqueueChain(
		func(job *Job) error {
			return refreshJob(db, canvas, job, courseID)
		},
		func(job *Job) error {
			return updateJob(db, canvas, job, courseID, payload)
		},
	)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error queueing update job: %v", err)
		return
	}

	render.JSON(http.StatusAccepted, map[string]string{
		"refresh_job_url": jobURL(keys[0]),
		"update_job_url":  jobURL(keys[1]),
	})
}

// GetJobStatus reports the state of a queued job: 404 for an unknown key,
// 200 with the final result once finished, 500 if the job crashed, and
// 202 with the latest progress snapshot while it runs.
func GetJobStatus(w http.ResponseWriter, params martini.Params, store JobStore, render render.Render) {
	key := params["job_key"]

	record, err := store.Get(key)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "error loading job %s: %v", key, err)
		return
	}
	if record == nil {
		render.JSON(http.StatusNotFound, map[string]interface{}{
			"error":      true,
			"status_msg": fmt.Sprintf("%s is not a valid job key.", key),
		})
		return
	}

	switch {
	case record.Finished:
		render.JSON(http.StatusOK, record.Result())
	case record.Crashed:
		logger.Errorf("job %s crashed", key)
		render.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":      true,
			"status_msg": fmt.Sprintf("Job %s failed to complete.", key),
		})
	default:
		render.JSON(http.StatusAccepted, record.Meta)
	}
}

// GetMissingQuizzes reports whether a refresh would find work to do for
// the course. The body is the literal string "true" or "false" so the
// front end can poll it cheaply.
func GetMissingQuizzes(w http.ResponseWriter, params martini.Params, db *sql.DB, canvas *CanvasClient) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	// a course we have never seen has nothing to refresh
	course, err := findCourse(db, courseID)
	if err == sql.ErrNoRows {
		fmt.Fprint(w, "false")
		return
	}
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	// same for a course with no extensions on record
	count, err := countExtensions(db, course.ID)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if count == 0 {
		fmt.Fprint(w, "false")
		return
	}

	quizzes, err := missingOrStaleQuizzes(db, canvas, course, true)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	fmt.Fprint(w, strconv.FormatBool(len(quizzes) > 0))
}
