// Copyright Pigeonworks LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout indicates the cross-process coordination lock could not
// be acquired within the configured bound.
var ErrLockTimeout = errors.New("timed out waiting for coordination lock")

const lockRetryDelay = 50 * time.Millisecond

// Store provides exclusive, cross-process access to the Shared record of
// one coordination directory. Load, Save and Clear must only be called
// from inside a WithLock callback.
type Store struct {
	dir         string
	statePath   string
	lockTimeout time.Duration

	// mu serializes WithLock within a single process; flock alone does
	// not conflict between two goroutines sharing this Store's fd.
	mu sync.Mutex
	fl *flock.Flock
}

// NewStore creates a Store rooted at the given coordination directory,
// creating the directory if needed.
func NewStore(dir string, lockTimeout time.Duration) (*Store, error) {
	if dir == "" {
		return nil, errors.New("coordination directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create coordination directory: %w", err)
	}
	return &Store{
		dir:         dir,
		statePath:   filepath.Join(dir, StateFileName),
		lockTimeout: lockTimeout,
		fl:          flock.New(filepath.Join(dir, LockFileName)),
	}, nil
}

// Dir returns the coordination directory.
func (s *Store) Dir() string {
	return s.dir
}

// WithLock runs fn while holding the exclusive cross-process lock. The
// lock is released on every exit path, including a panic inside fn.
// Failing to acquire the lock within the bound returns ErrLockTimeout.
func (s *Store) WithLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	locked, err := s.fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to acquire coordination lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w after %s", ErrLockTimeout, s.lockTimeout)
	}
	defer func() { _ = s.fl.Unlock() }()

	return fn()
}

// Load reads the shared record. An absent or unreadable file loads as
// (nil, nil): corrupt state is indistinguishable from no state and gets
// rewritten by the next starter rather than trusted.
func (s *Store) Load() (*Shared, error) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var shared Shared
	if err := json.Unmarshal(data, &shared); err != nil {
		return nil, nil
	}
	return &shared, nil
}

// Save writes the shared record atomically via a temp file and rename, so
// readers never observe a torn write even outside the lock.
func (s *Store) Save(shared *Shared) error {
	data, err := json.MarshalIndent(shared, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, StateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.statePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Clear removes the shared record. Removing an absent record is a no-op.
func (s *Store) Clear() error {
	if err := os.Remove(s.statePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}
