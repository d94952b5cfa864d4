package types

// Remote API objects, decoded from the LMS REST API. Only the fields the
// reconciliation engine reads are declared.

type CanvasCourse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type CanvasUser struct {
	ID           int64              `json:"id"`
	SortableName string             `json:"sortable_name"`
	SISUserID    string             `json:"sis_user_id"`
	Enrollments  []CanvasEnrollment `json:"enrollments"`
}

type CanvasEnrollment struct {
	Type            string `json:"type"`
	Role            string `json:"role"`
	EnrollmentState string `json:"enrollment_state"`
}

type CanvasQuiz struct {
	ID        int64    `json:"id"`
	Title     string   `json:"title"`
	TimeLimit *float64 `json:"time_limit"`
}

// UserExtraTime is one entry in a batch quiz-extension create call.
type UserExtraTime struct {
	UserID    int64 `json:"user_id"`
	ExtraTime int   `json:"extra_time"`
}

// IsActiveStudent reports whether any of the user's active or invited
// enrollments carry the student role. Guards against re-extending quizzes
// for a user whose role changed since the extension was recorded.
func (user *CanvasUser) IsActiveStudent() bool {
	for _, enrollment := range user.Enrollments {
		if enrollment.Type != "StudentEnrollment" {
			continue
		}
		if enrollment.EnrollmentState == "active" || enrollment.EnrollmentState == "invited" {
			return true
		}
	}
	return false
}
