package main

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxLaunchAge is how old a signed launch request can be before it is
// rejected as a possible replay.
const maxLaunchAge = time.Hour

// PostLaunch handles a signed LTI launch from the LMS. On success it
// creates a session for the launching user and redirects to the tool page
// for the course named in the launch.
func PostLaunch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing launch form: %v", err)
		return
	}

	// only accept launches from LMS domains we were installed into
	domain := r.PostFormValue("custom_canvas_api_domain")
	if len(Config.AllowedDomains) > 0 {
		found := false
		for _, elt := range Config.AllowedDomains {
			if domain == elt {
				found = true
				break
			}
		}
		if !found {
			loggedHTTPErrorf(w, http.StatusForbidden, "launch from unknown domain %q", domain)
			return
		}
	}

	// verify the consumer key and the oauth signature
	consumerKey := r.PostFormValue("oauth_consumer_key")
	if consumerKey == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "No consumer key")
		return
	}
	if consumerKey != Config.LTIKey {
		loggedHTTPErrorf(w, http.StatusForbidden, "Consumer key wasn't recognized")
		return
	}
	if err := checkOAuthSignature(r); err != nil {
		loggedHTTPErrorf(w, http.StatusForbidden, "signature check failed: %v", err)
		return
	}

	// reject stale launches
	timestamp, err := strconv.ParseInt(r.PostFormValue("oauth_timestamp"), 10, 64)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing oauth_timestamp: %v", err)
		return
	}
	age := time.Since(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > maxLaunchAge {
		loggedHTTPErrorf(w, http.StatusForbidden, "Your request is too old.")
		return
	}

	// only staff may launch the tool
	isAdmin, isStaff := parseLaunchRoles(r.PostFormValue("ext_roles"))
	if !isStaff {
		loggedHTTPErrorf(w, http.StatusForbidden,
			"You are not enrolled in this course as a Teacher, TA, or Designer.")
		return
	}

	userID, err := strconv.ParseInt(r.PostFormValue("custom_canvas_user_id"), 10, 64)
	if err != nil || userID < 1 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "launch request is missing the user ID")
		return
	}
	courseID, err := strconv.ParseInt(r.PostFormValue("custom_canvas_course_id"), 10, 64)
	if err != nil || courseID < 1 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "launch request is missing the course ID")
		return
	}

	session := NewSession(userID, isAdmin)
	session.Save(w)

	logger.Printf("user #%d launched for course #%d (admin: %v)", userID, courseID, isAdmin)
	http.Redirect(w, r, fmt.Sprintf("/quiz/%d", courseID), http.StatusFound)
}

// parseLaunchRoles scans the ext_roles URN list from a launch request.
// Admins bypass the per-course enrollment check later; instructors and
// admins may launch at all.
func parseLaunchRoles(extRoles string) (isAdmin, isStaff bool) {
	for _, urn := range strings.Split(extRoles, ",") {
		switch {
		case strings.HasSuffix(urn, "/Administrator"):
			isAdmin, isStaff = true, true
		case strings.HasSuffix(urn, "/Instructor"), strings.HasSuffix(urn, "/TeachingAssistant"):
			isStaff = true
		}
	}
	return isAdmin, isStaff
}

// checkOAuthSignature validates the OAuth 1.0 HMAC-SHA1 body signature on
// a launch request against the shared LTI secret.
func checkOAuthSignature(r *http.Request) error {
	if method := r.PostFormValue("oauth_signature_method"); method != "HMAC-SHA1" {
		return fmt.Errorf("unsupported signature method %q", method)
	}
	presented := r.PostFormValue("oauth_signature")
	if presented == "" {
		return fmt.Errorf("request has no signature")
	}

	// reconstruct the URL the LMS signed; the tool runs behind a TLS proxy
	// so the scheme on the wire is not the one in the signature
	requestURL := "https://" + Config.Hostname + r.URL.Path

	expected := computeOAuthSignature("POST", requestURL, r.PostForm, Config.LTISecret)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// computeOAuthSignature computes the OAuth 1.0 HMAC-SHA1 signature of a
// request: the method, URL, and sorted escaped parameters (minus the
// signature itself) are joined into a base string and signed with the
// consumer secret.
func computeOAuthSignature(method, requestURL string, form url.Values, secret string) string {
	pairs := []string{}
	for key, values := range form {
		if key == "oauth_signature" {
			continue
		}
		for _, value := range values {
			pairs = append(pairs, oauthEscape(key)+"="+oauthEscape(value))
		}
	}
	sort.Strings(pairs)

	base := strings.ToUpper(method) +
		"&" + oauthEscape(requestURL) +
		"&" + oauthEscape(strings.Join(pairs, "&"))

	mac := hmac.New(sha1.New, []byte(oauthEscape(secret)+"&"))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// oauthEscape percent-encodes per RFC 3986, which differs from
// url.QueryEscape in its treatment of spaces and tildes.
func oauthEscape(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.Replace(escaped, "+", "%20", -1)
	escaped = strings.Replace(escaped, "%7E", "~", -1)
	return escaped
}

// authResult is the outcome of a staff authorization check. Reason is
// rendered to the user when access is denied.
type authResult struct {
	Allowed bool
	Reason  string
}

// staffRoles are the enrollment types that may manage extensions.
var staffRoles = []string{"TeacherEnrollment", "TaEnrollment", "DesignerEnrollment"}

// authorizeStaff decides whether the session holder may manage extensions
// for the course. Admin sessions pass outright; everyone else must hold a
// teacher, TA, or designer enrollment in the course.
func authorizeStaff(canvas *CanvasClient, session *CookieSession, courseID int64) authResult {
	if session == nil {
		return authResult{Allowed: false, Reason: "Not allowed!"}
	}
	if session.IsAdmin {
		return authResult{Allowed: true}
	}

	enrollments, err := canvas.FetchEnrollments(courseID, session.CanvasUserID, staffRoles)
	if err != nil {
		logger.Warningf("error checking enrollments for user #%d in course #%d: %v",
			session.CanvasUserID, courseID, err)
		return authResult{Allowed: false, Reason: "Not allowed!"}
	}
	if len(enrollments) < 1 {
		return authResult{
			Allowed: false,
			Reason:  "You are not enrolled in this course as a Teacher, TA, or Designer.",
		}
	}
	return authResult{Allowed: true}
}
