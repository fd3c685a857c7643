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

// Package registry coordinates one shared Pub/Sub emulator across many
// independent test worker processes. Exactly one worker starts the
// emulator, every other worker joins it, and the last worker to release
// its lease tears it down. Workers coordinate purely through a file lock
// and a shared state record in a common directory.
package registry

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-pubsubemu/pkg/emulator"
	"github.com/pigeonworks-llc/go-pubsubemu/pkg/state"
)

// role is the outcome of classifying the shared state under the lock.
type role int

const (
	roleJoined role = iota
	roleStarter
	roleWaiting
)

// Registry is one participant's view of the shared emulator. Acquire and
// Release are blocking; every blocking phase is bounded by a configured
// timeout.
type Registry struct {
	cfg      emulator.Config
	store    *state.Store
	launcher *emulator.Launcher
	log      *zap.Logger
	token    string
}

// New creates a Registry coordinating through the given directory, which
// must be visible to every worker of the session. A nil logger is
// replaced with a no-op one.
func New(cfg emulator.Config, dir string, log *zap.Logger) (*Registry, error) {
	cfg.Normalize()
	if log == nil {
		log = zap.NewNop()
	}

	store, err := state.NewStore(dir, cfg.LockTimeout)
	if err != nil {
		return nil, err
	}

	token := newOwnerToken()
	return &Registry{
		cfg:      cfg,
		store:    store,
		launcher: emulator.NewLauncher(cfg, log),
		log:      log.With(zap.String("owner_token", token)),
		token:    token,
	}, nil
}

// OwnerToken returns this participant's opaque identity.
func (r *Registry) OwnerToken() string {
	return r.token
}

// Acquire obtains a lease on the shared emulator, starting one if no live
// emulator exists for the coordination directory. All concurrent callers
// on the same directory end up with identical connection info.
func (r *Registry) Acquire() (*emulator.Info, error) {
	deadline := time.Now().Add(r.cfg.StartupTimeout)

	for {
		var (
			rl   role
			info *emulator.Info
		)
		err := r.store.WithLock(func() error {
			shared, err := r.store.Load()
			if err != nil {
				return err
			}

			switch {
			case shared == nil:
				rl = roleStarter
				return r.writePlaceholder()
			case r.isStale(shared):
				r.log.Warn("discarding stale emulator state",
					zap.Int("pid", shared.PID),
					zap.String("stale_owner", shared.OwnerToken))
				if err := r.store.Clear(); err != nil {
					return err
				}
				rl = roleStarter
				return r.writePlaceholder()
			case !shared.Published():
				// Another worker is mid-start; poll until it
				// publishes the bound address.
				rl = roleWaiting
				return nil
			default:
				shared.RefCount++
				if err := r.store.Save(shared); err != nil {
					return err
				}
				rl = roleJoined
				info = &emulator.Info{
					Host:    shared.Host,
					Port:    shared.Port,
					Project: shared.Project,
				}
				return nil
			}
		})
		if err != nil {
			return nil, err
		}

		switch rl {
		case roleJoined:
			r.log.Info("joined running emulator",
				zap.String("addr", info.HostPort()))
			return info, nil
		case roleStarter:
			return r.startAsOwner()
		case roleWaiting:
			if time.Now().After(deadline) {
				return nil, &StartError{
					Phase: PhaseWaitOwner,
					Err:   fmt.Errorf("owner did not publish emulator address within %s", r.cfg.StartupTimeout),
				}
			}
			time.Sleep(r.cfg.PollInterval)
		}
	}
}

// Release gives up this worker's lease. The worker that drops the
// refcount to zero removes the record and stops the emulator; stopping is
// done after the lock is released so teardown never blocks other workers.
// Releasing with no record, or more times than acquired, is a no-op.
func (r *Registry) Release() error {
	stopPID := 0
	err := r.store.WithLock(func() error {
		shared, err := r.store.Load()
		if err != nil {
			return err
		}
		if shared == nil {
			return nil
		}

		shared.RefCount--
		if shared.RefCount <= 0 {
			stopPID = shared.PID
			return r.store.Clear()
		}
		return r.store.Save(shared)
	})
	if err != nil {
		return err
	}

	if stopPID > 0 {
		r.log.Info("last lease released, stopping emulator", zap.Int("pid", stopPID))
		r.launcher.Stop(stopPID)
	}
	return nil
}

// Status returns the current shared record, whether its emulator process
// is alive, and whether a record exists at all.
func (r *Registry) Status() (*state.Shared, bool, error) {
	var (
		shared *state.Shared
		alive  bool
	)
	err := r.store.WithLock(func() error {
		var err error
		shared, err = r.store.Load()
		if err != nil {
			return err
		}
		if shared != nil && shared.PID > 0 {
			alive = r.launcher.IsAlive(shared.PID, shared.Fingerprint)
		}
		return nil
	})
	return shared, alive, err
}

// Cleanup discards the shared record. By default only stale records are
// removed; with force a live emulator is stopped as well. It reports
// whether a record was removed.
func (r *Registry) Cleanup(force bool) (bool, error) {
	removed := false
	stopPID := 0
	err := r.store.WithLock(func() error {
		shared, err := r.store.Load()
		if err != nil {
			return err
		}
		if shared == nil {
			return nil
		}
		if !force && !r.isStale(shared) {
			return nil
		}
		if force && shared.PID > 0 {
			stopPID = shared.PID
		}
		removed = true
		return r.store.Clear()
	})
	if err != nil {
		return false, err
	}
	if stopPID > 0 {
		r.launcher.Stop(stopPID)
	}
	return removed, nil
}

// writePlaceholder claims ownership before launching, so the lock is not
// held across the slow launch and joiners know a start is in flight.
func (r *Registry) writePlaceholder() error {
	return r.store.Save(&state.Shared{
		RefCount:   1,
		OwnerToken: r.token,
		CreatedAt:  time.Now(),
	})
}

// isStale reports whether the record belongs to an emulator or starter
// that no longer exists. Detection is best-effort: pid liveness plus a
// recorded start-time fingerprint, and an age bound for placeholders
// whose starter crashed before publishing.
func (r *Registry) isStale(shared *state.Shared) bool {
	if shared.PID > 0 {
		return !r.launcher.IsAlive(shared.PID, shared.Fingerprint)
	}
	// Placeholders get twice the startup timeout before being declared
	// abandoned: waiters give up on their own timeout first, and the
	// extra margin keeps a slow-but-live starter from being usurped.
	return time.Since(shared.CreatedAt) > 2*r.cfg.StartupTimeout
}

// startAsOwner runs the launch sequence outside the lock, then publishes
// the bound address. Any failure rolls the placeholder back so no other
// worker trusts a half-started emulator.
func (r *Registry) startAsOwner() (*emulator.Info, error) {
	proc, err := r.launcher.Start(r.cfg.Host, r.cfg.Port, r.cfg.Project)
	if err != nil {
		r.rollback(0)
		return nil, &StartError{Phase: PhaseLaunch, Err: err}
	}

	if err := emulator.WaitUntilReady(proc.Host, proc.Port, r.cfg.StartupTimeout); err != nil {
		r.rollback(proc.PID)
		return nil, &StartError{Phase: PhaseReadiness, Err: err}
	}

	lost := false
	err = r.store.WithLock(func() error {
		shared, err := r.store.Load()
		if err != nil {
			return err
		}
		if shared == nil || shared.OwnerToken != r.token {
			lost = true
			return nil
		}
		shared.PID = proc.PID
		shared.Host = proc.Host
		shared.Port = proc.Port
		shared.Project = r.cfg.Project
		shared.Fingerprint = proc.Fingerprint
		return r.store.Save(shared)
	})
	if err != nil {
		r.rollback(proc.PID)
		return nil, &StartError{Phase: PhaseLaunch, Err: err}
	}
	if lost {
		// Another worker declared our placeholder stale mid-start.
		r.launcher.Stop(proc.PID)
		return nil, &StartError{
			Phase: PhaseLaunch,
			Err:   errors.New("another worker discarded this start as stale"),
		}
	}

	info := &emulator.Info{Host: proc.Host, Port: proc.Port, Project: r.cfg.Project}
	r.log.Info("started emulator as owner",
		zap.Int("pid", proc.PID),
		zap.String("addr", info.HostPort()))
	return info, nil
}

// rollback clears this worker's own placeholder and kills any process it
// managed to start. Best effort on the state side; the age bound on
// placeholders catches anything left behind.
func (r *Registry) rollback(pid int) {
	_ = r.store.WithLock(func() error {
		shared, err := r.store.Load()
		if err != nil {
			return err
		}
		if shared != nil && shared.OwnerToken == r.token {
			return r.store.Clear()
		}
		return nil
	})
	if pid > 0 {
		r.launcher.Stop(pid)
	}
}
