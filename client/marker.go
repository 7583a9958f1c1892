package client

import (
	"os"
	"path/filepath"
)

const markerFileName = "session.reco"

// sessionMarker is the persisted recoverable-session flag. Its presence
// tells a later Connect to retry session negotiation without a fresh
// user-facing action; it is cleared once a settlement payout confirms the
// channel did its job.
type sessionMarker struct {
	path string
}

func newSessionMarker(dataDir string) *sessionMarker {
	if dataDir == "" {
		return &sessionMarker{}
	}
	return &sessionMarker{path: filepath.Join(dataDir, markerFileName)}
}

func (m *sessionMarker) set() error {
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(m.path, []byte("1"), 0o600)
}

func (m *sessionMarker) clear() error {
	if m.path == "" {
		return nil
	}
	err := os.Remove(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (m *sessionMarker) exists() bool {
	if m.path == "" {
		return false
	}
	_, err := os.Stat(m.path)
	return err == nil
}
