package main

import (
	"database/sql"
	"fmt"
	"math"
	"strings"

	. "github.com/openedtools/quizext/types"
)

// UpdatePayload is the request body for an update job: the students to
// extend and the percent of normal time they should receive.
type UpdatePayload struct {
	Percent int     `json:"percent"`
	UserIDs []int64 `json:"user_ids"`
}

// empty reports whether the payload carries nothing at all, which happens
// when the request body was absent, malformed, or an empty object.
func (payload *UpdatePayload) empty() bool {
	return payload == nil || (payload.Percent == 0 && len(payload.UserIDs) == 0)
}

// extendResult is the outcome of one quiz extension attempt. AddedTime is
// nil for untimed quizzes, which count as success with nothing to do.
type extendResult struct {
	Success   bool
	Message   string
	AddedTime *int
}

// extendQuiz grants the listed users extra time on one quiz. The extra
// time is the quiz's time limit scaled by the percent over 100, rounded up
// to whole minutes, and is posted for all users in one batch call.
func extendQuiz(canvas *CanvasClient, courseID int64, quiz CanvasQuiz, percent int, userIDs []int64) extendResult {
	if quiz.TimeLimit == nil || *quiz.TimeLimit < 1 {
		return extendResult{
			Success: true,
			Message: fmt.Sprintf("Quiz #%d has no time limit, so there is no time to add.", quiz.ID),
		}
	}

	addedTime := int(math.Ceil(*quiz.TimeLimit * float64(percent-100) / 100.0))

	pairs := make([]UserExtraTime, 0, len(userIDs))
	for _, userID := range userIDs {
		pairs = append(pairs, UserExtraTime{UserID: userID, ExtraTime: addedTime})
	}

	ok, statusCode := canvas.CreateQuizExtensions(courseID, quiz.ID, pairs)
	if !ok {
		return extendResult{
			Success: false,
			Message: fmt.Sprintf("Error creating extension for quiz #%d. Canvas status code: %d", quiz.ID, statusCode),
		}
	}

	return extendResult{
		Success:   true,
		Message:   fmt.Sprintf("Successfully added %d minutes to quiz #%d", addedTime, quiz.ID),
		AddedTime: &addedTime,
	}
}

func pluralizeQuizzes(n int) string {
	if n == 1 {
		return "quiz has"
	}
	return "quizzes have"
}

// updateJob applies one extension request to every quiz in the course. It
// records the course, users, and extensions locally before touching any
// quiz, then extends quizzes one at a time, aborting on the first failure.
// In-contract failures report through the job meta and return nil; a
// returned error means the job itself broke.
func updateJob(db *sql.DB, canvas *CanvasClient, job *Job, courseID int64, payload *UpdatePayload) error {
	job.Report(JobStarted, "Starting...", 0, false)

	if payload.empty() {
		logger.Warningf("invalid update request for course #%d", courseID)
		job.Report(JobFailed, "Invalid Request", 0, true)
		return nil
	}

	remoteCourse, err := canvas.FetchCourse(courseID)
	if err != nil {
		logger.Warningf("unable to find course #%d: %v", courseID, err)
		job.Report(JobFailed, "Course not found.", 0, true)
		return nil
	}

	if payload.Percent == 0 {
		logger.Warningf("percent missing from update request for course #%d", courseID)
		job.Report(JobFailed, "`percent` field required.", 0, true)
		return nil
	}

	course, err := getOrCreateCourse(db, courseID, remoteCourse.Name)
	if err != nil {
		return err
	}

	// record each requested user and their standing extension before any
	// quiz is touched, skipping users the LMS cannot find
	for _, userID := range payload.UserIDs {
		remoteUser, err := canvas.FetchUser(courseID, userID)
		if err != nil {
			logger.Warningf("unable to find user #%d in course #%d", userID, courseID)
			continue
		}

		user, err := getOrCreateUser(db, userID, remoteUser.SortableName, remoteUser.SISUserID)
		if err != nil {
			return err
		}

		extension, err := getOrCreateExtension(db, course.ID, user.ID)
		if err != nil {
			return err
		}
		if extension.Percent != payload.Percent {
			extension.Percent = payload.Percent
			if err := updateExtension(db, extension); err != nil {
				return err
			}
		}
	}

	quizzes := canvas.FetchQuizzes(courseID)
	if len(quizzes) < 1 {
		logger.Warningf("no quizzes found for course #%d", courseID)
		job.Report(JobFailed, "Sorry, there are no quizzes for this course.", 0, true)
		return nil
	}

	quizTimeList := []QuizTime{}
	unchangedList := []QuizTitle{}

	for i, quiz := range quizzes {
		percentComplete := 100 * i / len(quizzes)
		job.Report(JobProcessing,
			fmt.Sprintf("Updating quiz #%d - %s [%d of %d]", quiz.ID, quiz.Title, i+1, len(quizzes)),
			percentComplete, false)

		result := extendQuiz(canvas, courseID, quiz, payload.Percent, payload.UserIDs)
		if !result.Success {
			logger.Errorf("extension failed for quiz #%d in course #%d: %s", quiz.ID, courseID, result.Message)
			job.Report(JobFailed, result.Message, percentComplete, true)
			return nil
		}
		if result.AddedTime != nil {
			quizTimeList = append(quizTimeList, QuizTime{Title: quiz.Title, AddedTime: *result.AddedTime})
		} else {
			unchangedList = append(unchangedList, QuizTitle{Title: quiz.Title})
		}

		// mirror the quiz locally so the next refresh sees it as in sync
		if _, err := upsertQuiz(db, quiz.ID, course.ID, quiz.Title, quiz.TimeLimit); err != nil {
			return err
		}
	}

	job.AttachLists(quizTimeList, unchangedList)
	msg := fmt.Sprintf("Success! %d %s been updated for %d student(s) to have %d%% time. "+
		"%d %s no time limit and were left unchanged.",
		len(quizTimeList), pluralizeQuizzes(len(quizTimeList)),
		len(payload.UserIDs), payload.Percent,
		len(unchangedList), pluralizeQuizzes(len(unchangedList)))
	job.Report(JobComplete, msg, 100, false)
	return nil
}

// refreshJob brings quizzes that are missing locally or whose time limit
// changed back in line with the standing extensions for the course. Users
// who left the course or are no longer students get their extensions
// deactivated along the way.
func refreshJob(db *sql.DB, canvas *CanvasClient, job *Job, courseID int64) error {
	job.Report(JobStarted, "Starting...", 0, false)

	course, err := getOrCreateCourse(db, courseID, "")
	if err != nil {
		return err
	}

	remoteCourse, err := canvas.FetchCourse(courseID)
	if err != nil {
		logger.Warningf("unable to find course #%d: %v", courseID, err)
		job.Report(JobFailed, "Course not found.", 0, true)
		return nil
	}
	if remoteCourse.Name != "" && course.Name != remoteCourse.Name {
		course, err = getOrCreateCourse(db, courseID, remoteCourse.Name)
		if err != nil {
			return err
		}
	}

	quizzes, err := missingOrStaleQuizzes(db, canvas, course, false)
	if err != nil {
		return err
	}
	if len(quizzes) < 1 {
		job.Report(JobComplete, "Complete. No quizzes required updates.", 100, false)
		return nil
	}

	job.Report(JobProcessing, "Getting past extensions.", 0, false)

	// bucket users by percent so each quiz needs one batch call per
	// distinct percent value
	extensions, users, err := courseExtensions(db, course.ID)
	if err != nil {
		return err
	}
	percentUserMap := make(map[int][]int64)
	inactiveList := []string{}
	for _, extension := range extensions {
		user := users[extension.UserID]

		if !extension.Active {
			logger.Debugf("extension #%d for user #%d is inactive", extension.ID, user.CanvasID)
			inactiveList = append(inactiveList, user.SortableName)
			continue
		}

		remoteUser, err := canvas.FetchUser(courseID, user.CanvasID)
		if err != nil {
			logger.Printf("user #%d not found in course #%d, deactivating extension", user.CanvasID, courseID)
			if err := deactivateExtension(db, extension); err != nil {
				return err
			}
			inactiveList = append(inactiveList, user.SortableName)
			continue
		}
		if !remoteUser.IsActiveStudent() {
			logger.Printf("user #%d is no longer a student in course #%d, deactivating extension", user.CanvasID, courseID)
			if err := deactivateExtension(db, extension); err != nil {
				return err
			}
			inactiveList = append(inactiveList, user.SortableName)
			continue
		}

		percentUserMap[extension.Percent] = append(percentUserMap[extension.Percent], user.CanvasID)
	}

	if len(percentUserMap) < 1 {
		msg := "No active extensions were found.<br>"
		if len(inactiveList) > 0 {
			msg += " Extensions for the following students are inactive:<br>" +
				strings.Join(inactiveList, "<br>")
		}
		job.Report(JobComplete, msg, 100, false)
		return nil
	}

	for i, quiz := range quizzes {
		percentComplete := 100 * i / len(quizzes)
		job.Report(JobProcessing,
			fmt.Sprintf("Refreshing quiz #%d - %s [%d of %d]", quiz.ID, quiz.Title, i+1, len(quizzes)),
			percentComplete, false)

		for percent, userIDs := range percentUserMap {
			result := extendQuiz(canvas, courseID, quiz, percent, userIDs)
			if !result.Success {
				job.Report(JobFailed, "Some quizzes couldn't be updated. "+result.Message, percentComplete, true)
				return nil
			}
			if _, err := upsertQuiz(db, quiz.ID, course.ID, quiz.Title, quiz.TimeLimit); err != nil {
				return err
			}
		}
	}

	job.Report(JobComplete, fmt.Sprintf("%d quizzes have been updated.", len(quizzes)), 100, false)
	return nil
}
