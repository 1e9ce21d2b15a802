package app

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"roomchat/internal/devserver"
)

// ServerConfig defines how the development room server runs.
type ServerConfig struct {
	Addr         string
	Path         string
	DBPath       string
	HistoryLimit int
	RoomCapacity int
	RateLimit    int
	RateWindow   time.Duration
	Editors      []string
}

// ClientConfig defines what the terminal client joins and where it writes.
type ClientConfig struct {
	Endpoint    string
	Room        string
	Token       string
	SendTimeout time.Duration
	Transcript  string
	LogFile     string
}

var (
	errNoEndpoint = errors.New("endpoint is required (--endpoint or ROOMCHAT_ENDPOINT)")
	errNoRoom     = errors.New("room is required")
)

// Validate reports the first missing setting.
func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errNoEndpoint
	}
	if strings.TrimSpace(c.Room) == "" {
		return errNoRoom
	}
	return nil
}

// DefaultDBPath returns a per-user data path for the devserver's SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("ROOMCHAT_DB"); env != "" {
		return env
	}
	if env := os.Getenv("ROOMCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "roomchat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "roomchat", "roomchat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Roomchat", "roomchat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Roomchat", "roomchat.db")
		}
		return filepath.Join(home, ".local", "share", "roomchat", "roomchat.db")
	}
	return filepath.Join(".", ".roomchat", "roomchat.db")
}

// NormalizeSocketPath guarantees the socket mount starts with '/' and has no
// trailing slash or /websocket suffix. Empty means /socket.
func NormalizeSocketPath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimSuffix(strings.TrimRight(path, "/"), "/websocket")
	if path == "" {
		return devserver.DefaultPath
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
