package snapshot

// ============================================================================
// 職責說明：
// 1. 將單一實體集合序列化為可持久的 JSON 記錄
// 2. 使用原子性寫入（temp file + fsync + rename），讀者不會看到寫到一半的記錄
// 3. 載入時區分「記錄不存在」與「記錄損壞」，兩者在啟動時都是致命錯誤
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrNotFound  = errors.New("snapshot record not found")
	ErrCorrupted = errors.New("snapshot record is corrupted")
	ErrWrite     = errors.New("snapshot write failed")
)

// ============================================================================
// 快照管理器 Manager
// ============================================================================

// Manager owns a single record file.
type Manager struct {
	path string
	mu   sync.Mutex // serializes writers and readers of the same file
}

// NewManager creates a manager for the record at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write replaces the record with v.
//
// Flow:
//  1. marshal (indented, the records are meant to be read by people too)
//  2. write <path>.tmp and fsync
//  3. rename over <path>
func (m *Manager) Write(v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrWrite, m.path, err)
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}

	tmpPath := m.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %v", ErrWrite, err)
	}
	return nil
}

// Load decodes the record into v.
//
// A missing file is ErrNotFound and bad JSON is ErrCorrupted. There is no
// "start empty" fallback here; callers that want one create the record first.
func (m *Manager) Load(v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, m.path)
		}
		return fmt.Errorf("read %s: %w", m.path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, m.path, err)
	}
	return nil
}

// Exists reports whether the record file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath returns the record path.
func (m *Manager) GetPath() string {
	return m.path
}
