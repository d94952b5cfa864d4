package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-martini/martini"
	mgzip "github.com/martini-contrib/gzip"
	"github.com/martini-contrib/render"
	_ "github.com/mattn/go-sqlite3"
	. "github.com/openedtools/quizext/types"
	"github.com/russross/meddler"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Config holds site-specific configuration data.
var Config struct {
	// required parameters
	Hostname      string `json:"hostname"`      // Hostname for the site: "your.host.goes.here"
	APIURL        string `json:"apiURL"`        // Base URL of the LMS REST API: "https://canvas.example.edu/api/v1/"
	APIKey        string `json:"apiKey"`        // LMS API access token
	LTIKey        string `json:"ltiKey"`        // LTI consumer key given to the LMS
	LTISecret     string `json:"ltiSecret"`     // LTI shared secret. Must match that given to the LMS: `head -c 32 /dev/urandom | base64`
	SessionSecret string `json:"sessionSecret"` // Random string used to sign cookie sessions: `head -c 32 /dev/urandom | base64`

	// parameters where the default is usually sufficient
	AllowedDomains []string `json:"allowedDomains"` // LMS domains allowed to launch the tool
	ToolName       string   `json:"toolName"`       // LTI human readable name: default "Quiz Extensions"
	ToolID         string   `json:"toolID"`         // LTI unique ID: default "quizext"
	SQLite3Path    string   `json:"sqlite3Path"`    // path to the sqlite database file: default "$QUIZEXTROOT/db/quizext.db"
	RedisURL       string   `json:"redisURL"`       // redis URL for job records: default "" (in-memory store)
	MaxPerPage     int      `json:"maxPerPage"`     // LMS page size for full listings: default 100
	DefaultPerPage int      `json:"defaultPerPage"` // page size for the student search: default 10
	Workers        int      `json:"workers"`        // number of background job workers: default 2
}

var logger = logrus.New()

var root string
var port string

func main() {
	cmdQuizext := &cobra.Command{
		Use:   "quizext",
		Short: "quiz time extension tool",
		Long: "An LTI tool that grants selected students extra time\n" +
			"on every timed quiz in a course",
	}

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "print the version number of quizext",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("quizext " + CurrentVersion.Version)
		},
	}
	cmdQuizext.AddCommand(cmdVersion)

	cmdServe := &cobra.Command{
		Use:   "serve",
		Short: "run the web server and job workers",
		Run:   CommandServe,
	}
	cmdServe.Flags().BoolP("config", "c", false, "use config.json for config data (for testing)")
	cmdQuizext.AddCommand(cmdServe)

	cmdQuizext.Execute()
}

func CommandServe(cmd *cobra.Command, args []string) {
	root = os.Getenv("QUIZEXTROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Fatalf("QUIZEXTROOT is not set, and cannot find user's home directory")
		}
		root = filepath.Join(home, "quizext")
	}
	logger.Printf("QUIZEXTROOT set to %s", root)

	port = ":" + os.Getenv("PORT")
	if port == ":" {
		port = ":8080"
	}
	logger.Printf("port set to %s", port)

	// set config defaults
	Config.ToolName = "Quiz Extensions"
	Config.ToolID = "quizext"
	Config.SQLite3Path = filepath.Join(root, "db", "quizext.db")
	Config.MaxPerPage = 100
	Config.DefaultPerPage = 10
	Config.Workers = 2

	// load config
	useConfig, _ := cmd.Flags().GetBool("config")
	if useConfig {
		configFile := filepath.Join(root, "config.json")
		if raw, err := os.ReadFile(configFile); err != nil {
			logger.Fatalf("failed to load config file %q: %v", configFile, err)
		} else if err := json.Unmarshal(raw, &Config); err != nil {
			logger.Fatalf("failed to parse config file: %v", err)
		}
	} else {
		Config.Hostname = os.Getenv("QUIZEXT_HOSTNAME")
		Config.APIURL = os.Getenv("QUIZEXT_APIURL")
		Config.APIKey = os.Getenv("QUIZEXT_APIKEY")
		Config.LTIKey = os.Getenv("QUIZEXT_LTIKEY")
		Config.LTISecret = os.Getenv("QUIZEXT_LTISECRET")
		Config.SessionSecret = os.Getenv("QUIZEXT_SESSIONSECRET")
		Config.RedisURL = os.Getenv("QUIZEXT_REDISURL")
		if domains := os.Getenv("QUIZEXT_ALLOWEDDOMAINS"); domains != "" {
			Config.AllowedDomains = strings.Split(domains, ",")
		}
	}

	if Config.Hostname == "" {
		logger.Fatalf("cannot run with no hostname in the config")
	}
	if Config.APIURL == "" || Config.APIKey == "" {
		logger.Fatalf("cannot run with no LMS API URL/key in the config")
	}
	if Config.LTIKey == "" || Config.LTISecret == "" {
		logger.Fatalf("cannot run with no LTI key/secret in the config")
	}
	if Config.SessionSecret == "" {
		logger.Fatalf("cannot run with no sessionSecret in the config")
	}

	// set up the database
	db := setupDB(Config.SQLite3Path)
	if err := createTables(db); err != nil {
		logger.Fatalf("error creating tables: %v", err)
	}

	// set up the LMS API client
	canvas := NewCanvasClient(Config.APIURL, Config.APIKey, Config.MaxPerPage)

	// set up the job store and worker pool
	var store JobStore
	if Config.RedisURL != "" {
		redisStore, err := newRedisJobStore(Config.RedisURL)
		if err != nil {
			logger.Fatalf("error connecting to redis at %s: %v", Config.RedisURL, err)
		}
		store = redisStore
		logger.Printf("job records stored in redis")
	} else {
		store = newMemoryJobStore()
		logger.Printf("job records stored in memory")
	}
	queue := newJobQueue(store, Config.Workers, 64)

	m := setupMartini(db, canvas, store, queue)

	// note: this will work behind a TLS proxy or for debugging with some calls
	// but LTI will refuse to connect to an insecure host
	logger.Printf("accepting http connections on %s", port)
	if err := http.ListenAndServe(port, m); err != nil {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// setupMartini wires the router, middleware, and injected collaborators.
// Kept separate from CommandServe so tests can run the full stack against
// fakes.
func setupMartini(db *sql.DB, canvas *CanvasClient, store JobStore, queue *JobQueue) *martini.Martini {
	r := martini.NewRouter()
	m := martini.New()
	m.Use(martini.Recovery())
	m.MapTo(r, (*martini.Routes)(nil))
	m.Action(r.Handle)

	m.Use(mgzip.All())
	m.Use(render.Renderer(render.Options{IndentJSON: false}))

	m.Map(db)
	m.Map(canvas)
	m.Map(queue)
	m.MapTo(store, (*JobStore)(nil))

	// martini service: require the session holder to be staff for the course
	// named in the URL (see authorizeStaff)
	staffOnly := func(w http.ResponseWriter, r *http.Request, params martini.Params, render render.Render) {
		courseID, err := parseID(w, "course_id", params["course_id"])
		if err != nil {
			return
		}
		session, _ := GetSession(r)
		result := authorizeStaff(canvas, session, courseID)
		if !result.Allowed {
			logger.Warningf("access denied for course #%d: %s", courseID, result.Reason)
			render.JSON(http.StatusForbidden, map[string]string{"error": result.Reason})
		}
	}

	r.Get("/", GetIndex)
	r.Get("/status", GetStatus)
	r.Get("/version", func(render render.Render) {
		render.JSON(http.StatusOK, &CurrentVersion)
	})

	// LTI
	r.Get("/lti.xml", GetConfigXML)
	r.Post("/launch", PostLaunch)

	// tool pages (JSON payloads; rendering is left to the front end)
	r.Get("/quiz/:course_id", staffOnly, GetQuizPage)
	r.Get("/filter/:course_id", staffOnly, GetFilter)

	// jobs
	r.Post("/refresh/:course_id", PostRefresh)
	r.Post("/update/:course_id", staffOnly, PostUpdate)
	r.Get("/jobs/:job_key", GetJobStatus)

	// missing/stale quiz check
	r.Get("/missing_quizzes/:course_id", GetMissingQuizzes)

	return m
}

func setupDB(path string) *sql.DB {
	meddler.Default = meddler.SQLite

	options :=
		"?" + "mode=rwc" +
			"&" + "_busy_timeout=10000" +
			"&" + "_foreign_keys=ON" +
			"&" + "_journal_mode=WAL" +
			"&" + "_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", path+options)
	if err != nil {
		logger.Fatalf("error opening database: %v", err)
	}

	return db
}

func loggedHTTPErrorf(w http.ResponseWriter, status int, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	logger.Error(msg)
	http.Error(w, msg, status)
	return fmt.Errorf("%s", msg)
}

func parseID(w http.ResponseWriter, name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing %s from URL: %v", name, err)
	}
	if id < 1 {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "invalid ID in URL: %s must be 1 or greater", name)
	}

	return id, nil
}
