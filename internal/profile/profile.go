// Package profile holds the runtime configuration of a platewise instance.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Mode can be "prod", "dev" or "demo".
	Mode string
	// Addr is the binding address for the server.
	Addr string
	// Port is the binding port for the server.
	Port int
	// Data is the directory that holds the sqlite session store.
	Data string
	// DSN overrides the default sqlite database path.
	DSN string
	// Secret signs and verifies dashboard bearer tokens.
	Secret string
	// InstanceURL is the public URL of this instance.
	InstanceURL string
	// Version is the current service version.
	Version string

	// BackendBaseURL is the base URL of the meal-planning backend
	// (chat, tool-call and conversation-reset endpoints).
	BackendBaseURL string
	// BackendTimeout bounds a single backend HTTP call.
	BackendTimeout time.Duration

	// PlatformAPIKey authenticates against the assistant platform.
	PlatformAPIKey string
	// PlatformBaseURL overrides the assistant platform base URL.
	PlatformBaseURL string
	// AssistantID is the assistant used for authenticated callers.
	AssistantID string
	// GuestAssistantID is the assistant used for guest callers.
	GuestAssistantID string

	// TurnTimeout bounds one conversational turn end to end,
	// including run polling and tool dispatch.
	TurnTimeout time.Duration
	// PollInterval is the run status polling interval.
	PollInterval time.Duration
	// MaxConcurrentTurns bounds turns executing at the same time
	// across all sessions.
	MaxConcurrentTurns int64
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// FromEnv overlays PLATEWISE_* environment variables that have no
// dedicated flag binding.
func (p *Profile) FromEnv() {
	if v := os.Getenv("PLATEWISE_BACKEND_URL"); v != "" {
		p.BackendBaseURL = v
	}
	if v := os.Getenv("PLATEWISE_PLATFORM_API_KEY"); v != "" {
		p.PlatformAPIKey = v
	}
	if v := os.Getenv("PLATEWISE_PLATFORM_BASE_URL"); v != "" {
		p.PlatformBaseURL = v
	}
	if v := os.Getenv("PLATEWISE_ASSISTANT_ID"); v != "" {
		p.AssistantID = v
	}
	if v := os.Getenv("PLATEWISE_GUEST_ASSISTANT_ID"); v != "" {
		p.GuestAssistantID = v
	}
	if v := os.Getenv("PLATEWISE_TURN_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			p.TurnTimeout = time.Duration(secs) * time.Second
		}
	}
}

// Validate checks the profile and fills derived defaults.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Data == "" {
		if p.Mode == "prod" {
			p.Data = "/var/opt/platewise"
		} else {
			p.Data = "."
		}
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return errors.Wrap(err, "check data directory")
	}
	p.Data = dataDir

	if p.DSN == "" {
		dbFile := fmt.Sprintf("platewise_%s.db", p.Mode)
		p.DSN = filepath.Join(p.Data, dbFile)
	}

	if p.BackendBaseURL == "" {
		return errors.New("backend base URL is required")
	}
	if p.AssistantID == "" {
		return errors.New("assistant id is required")
	}
	if p.GuestAssistantID == "" {
		// A single assistant can serve both caller modes.
		p.GuestAssistantID = p.AssistantID
	}

	if p.BackendTimeout <= 0 {
		p.BackendTimeout = 30 * time.Second
	}
	if p.TurnTimeout <= 0 {
		p.TurnTimeout = 120 * time.Second
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 500 * time.Millisecond
	}
	if p.MaxConcurrentTurns <= 0 {
		p.MaxConcurrentTurns = 32
	}
	return nil
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}
	// Trim trailing "/" in case user supplies
	dataDir = filepath.Clean(dataDir)

	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}
