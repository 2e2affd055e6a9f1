package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Session remembers the daemon a user logged in to.
type Session struct {
	ServerURL string    `json:"server_url"`
	Token     string    `json:"token,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// SessionManager handles session storage and retrieval
type SessionManager struct {
	sessionPath string
}

// NewSessionManager stores the session under ~/.mcpanel.
func NewSessionManager() *SessionManager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return &SessionManager{sessionPath: filepath.Join(homeDir, ".mcpanel", "session.json")}
}

func (sm *SessionManager) SaveSession(s *Session) error {
	if err := os.MkdirAll(filepath.Dir(sm.sessionPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	// the token grants full control of the panel
	return os.WriteFile(sm.sessionPath, data, 0o600)
}

// LoadSession returns nil without error when no session is saved.
func (sm *SessionManager) LoadSession() (*Session, error) {
	data, err := os.ReadFile(sm.sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (sm *SessionManager) ClearSession() error {
	err := os.Remove(sm.sessionPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
