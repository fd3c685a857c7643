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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	t.Run("creates the coordination directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "coord")
		store, err := NewStore(dir, time.Second)
		require.NoError(t, err)
		require.NotNil(t, store)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, dir, store.Dir())
	})

	t.Run("rejects an empty directory", func(t *testing.T) {
		_, err := NewStore("", time.Second)
		require.Error(t, err)
	})
}

func TestStore_LoadSaveClear(t *testing.T) {
	store, err := NewStore(t.TempDir(), time.Second)
	require.NoError(t, err)

	t.Run("absent record loads as nil", func(t *testing.T) {
		err := store.WithLock(func() error {
			shared, err := store.Load()
			require.NoError(t, err)
			assert.Nil(t, shared)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("round-trips a record", func(t *testing.T) {
		want := &Shared{
			PID:         4242,
			Host:        "localhost",
			Port:        8085,
			Project:     "test-project",
			RefCount:    2,
			OwnerToken:  "abc123",
			Fingerprint: "98765",
			CreatedAt:   time.Now().Truncate(time.Second),
		}
		err := store.WithLock(func() error {
			if err := store.Save(want); err != nil {
				return err
			}
			got, err := store.Load()
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want.PID, got.PID)
			assert.Equal(t, want.Port, got.Port)
			assert.Equal(t, want.RefCount, got.RefCount)
			assert.Equal(t, want.OwnerToken, got.OwnerToken)
			assert.True(t, got.Published())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("clear removes the record and is idempotent", func(t *testing.T) {
		err := store.WithLock(func() error {
			if err := store.Clear(); err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			shared, err := store.Load()
			require.NoError(t, err)
			assert.Nil(t, shared)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("corrupt record loads as absent", func(t *testing.T) {
		path := filepath.Join(store.Dir(), StateFileName)
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		err := store.WithLock(func() error {
			shared, err := store.Load()
			require.NoError(t, err)
			assert.Nil(t, shared)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestStore_WithLock(t *testing.T) {
	t.Run("excludes a second store on the same directory", func(t *testing.T) {
		dir := t.TempDir()
		s1, err := NewStore(dir, time.Second)
		require.NoError(t, err)
		s2, err := NewStore(dir, 300*time.Millisecond)
		require.NoError(t, err)

		held := make(chan struct{})
		release := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s1.WithLock(func() error {
				close(held)
				<-release
				return nil
			})
		}()

		<-held
		err = s2.WithLock(func() error { return nil })
		require.ErrorIs(t, err, ErrLockTimeout)

		close(release)
		wg.Wait()

		// Lock is free again.
		require.NoError(t, s2.WithLock(func() error { return nil }))
	})

	t.Run("serializes concurrent writers", func(t *testing.T) {
		dir := t.TempDir()

		const workers = 8
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := NewStore(dir, 5*time.Second)
				if err != nil {
					return
				}
				_ = s.WithLock(func() error {
					shared, err := s.Load()
					if err != nil {
						return err
					}
					if shared == nil {
						shared = &Shared{CreatedAt: time.Now()}
					}
					shared.RefCount++
					return s.Save(shared)
				})
			}()
		}
		wg.Wait()

		s, err := NewStore(dir, time.Second)
		require.NoError(t, err)
		err = s.WithLock(func() error {
			shared, err := s.Load()
			require.NoError(t, err)
			require.NotNil(t, shared)
			assert.Equal(t, workers, shared.RefCount)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("releases the lock when fn panics", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewStore(dir, time.Second)
		require.NoError(t, err)

		func() {
			defer func() { _ = recover() }()
			_ = s.WithLock(func() error { panic("boom") })
		}()

		require.NoError(t, s.WithLock(func() error { return nil }))
	})
}
