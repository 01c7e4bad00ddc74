// Package state persists per-app build state so `wraith status` can report on a running session
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/types"
)

// AppState represents the persistent state of an app
type AppState struct {
	App           string           `json:"app"`
	Mode          types.BuildMode  `json:"mode,omitempty"`
	State         types.BuildState `json:"state"`
	WatcherID     string           `json:"watcherId,omitempty"`
	LastBuildTime time.Time        `json:"lastBuildTime,omitempty"`
	BuildDuration time.Duration    `json:"buildDuration,omitempty"`
	BuildCount    int              `json:"buildCount"`
	FailureCount  int              `json:"failureCount"`
	RestartCount  int              `json:"restartCount"`
	LastError     string           `json:"lastError,omitempty"`
	ProcessID     int              `json:"processId"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Manager keeps app states in memory and mirrors them to JSON files
type Manager struct {
	stateDir string
	logger   logger.Logger
	mu       sync.RWMutex
	states   map[string]*AppState
}

// NewManager creates a state manager writing under <cacheDir>/state
func NewManager(cacheDir string, log logger.Logger) *Manager {
	return &Manager{
		stateDir: filepath.Join(cacheDir, "state"),
		logger:   log,
		states:   make(map[string]*AppState),
	}
}

// Dir returns the directory state files live in
func (m *Manager) Dir() string {
	return m.stateDir
}

// Initialize creates or resets the state of an app, keeping counters from a previous run
func (m *Manager) Initialize(app string, mode types.BuildMode) *AppState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &AppState{
		App:       app,
		Mode:      mode,
		State:     types.BuildStateIdle,
		ProcessID: os.Getpid(),
	}

	if existing, err := m.loadStateFile(app); err == nil {
		st.BuildCount = existing.BuildCount
		st.FailureCount = existing.FailureCount
		st.LastBuildTime = existing.LastBuildTime
		st.BuildDuration = existing.BuildDuration
	}

	m.states[app] = st
	m.persist(st)
	return st.clone()
}

// Transition moves an app to a new build state
func (m *Manager) Transition(app string, to types.BuildState) {
	m.update(app, func(st *AppState) {
		st.State = to
	})
}

// RecordBuild records a finished build
func (m *Manager) RecordBuild(app string, duration time.Duration, buildErr error) {
	m.update(app, func(st *AppState) {
		st.LastBuildTime = time.Now()
		st.BuildDuration = duration
		if buildErr != nil {
			st.FailureCount++
			st.LastError = buildErr.Error()
			return
		}
		st.BuildCount++
		st.LastError = ""
	})
}

// RecordRestart counts a hard watch restart
func (m *Manager) RecordRestart(app string) {
	m.update(app, func(st *AppState) {
		st.RestartCount++
		st.State = types.BuildStateRestarting
		st.WatcherID = ""
	})
}

// SetWatcher records the identity of the app's live watcher, empty when none
func (m *Manager) SetWatcher(app, watcherID string) {
	m.update(app, func(st *AppState) {
		st.WatcherID = watcherID
	})
}

// Get returns a copy of the in-memory state of an app
func (m *Manager) Get(app string) (*AppState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[app]
	if !ok {
		return nil, false
	}
	return st.clone(), true
}

// Read returns the state of an app, from memory or from its file
func (m *Manager) Read(app string) (*AppState, error) {
	if st, ok := m.Get(app); ok {
		return st, nil
	}
	return m.loadStateFile(app)
}

// Discover loads every state file, sorted by app name
func (m *Manager) Discover() ([]*AppState, error) {
	entries, err := os.ReadDir(m.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var states []*AppState
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		st, err := m.loadStateFile(name[:len(name)-len(".json")])
		if err != nil {
			m.logger.Warn("Failed to load state file",
				logger.WithField("file", name),
				logger.WithError(err))
			continue
		}
		states = append(states, st)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].App < states[j].App })
	return states, nil
}

// Cleanup marks every app of this process as stopped
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range m.states {
		if st.State != types.BuildStateFailed {
			st.State = types.BuildStateDone
		}
		st.WatcherID = ""
		st.ProcessID = 0
		m.persist(st)
	}
}

func (m *Manager) update(app string, fn func(*AppState)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[app]
	if !ok {
		st = &AppState{App: app, State: types.BuildStateIdle, ProcessID: os.Getpid()}
		m.states[app] = st
	}
	fn(st)
	m.persist(st)
}

// persist writes the state file; failures only cost observability so they are logged
func (m *Manager) persist(st *AppState) {
	st.UpdatedAt = time.Now()
	if err := m.saveStateFile(st); err != nil {
		m.logger.Debug("Failed to save state",
			logger.WithField("app", st.App),
			logger.WithError(err))
	}
}

func (m *Manager) stateFilePath(app string) string {
	return filepath.Join(m.stateDir, app+".json")
}

func (m *Manager) loadStateFile(app string) (*AppState, error) {
	data, err := os.ReadFile(m.stateFilePath(app))
	if err != nil {
		return nil, err
	}

	var st AppState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &st, nil
}

func (m *Manager) saveStateFile(st *AppState) error {
	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateFile := m.stateFilePath(st.App)
	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err := os.Rename(tempFile, stateFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

func (s *AppState) clone() *AppState {
	c := *s
	return &c
}
