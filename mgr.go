//
// Copyright 2024 Arborix, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"unsafe"

	systemd "github.com/coreos/go-systemd/daemon"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/arborix/memtree/session"
)

var memtreedPidFile = "/run/memtreed/memtreed.pid"

type mgrConfig struct {
	arenaSize   int
	workloadLen int
}

// MemtreeMgr runs a fixed-size pool of memory-allocator sessions and
// exercises them with a synthetic allocate/free workload while it
// runs as a daemon.
type MemtreeMgr struct {
	cfg      mgrConfig
	sessions *session.Manager
	sessIDs  []string
}

func newMemtreeMgr(ctx *cli.Context) (*MemtreeMgr, error) {
	cfg := mgrConfig{
		arenaSize:   ctx.Int("arena-size"),
		workloadLen: ctx.Int("workload-size"),
	}

	mgr := &MemtreeMgr{
		cfg:      cfg,
		sessions: session.NewManager(),
	}

	id, err := mgr.sessions.Open(cfg.arenaSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open initial session: %v", err)
	}
	mgr.sessIDs = append(mgr.sessIDs, id)

	return mgr, nil
}

// Start runs one pass of the synthetic allocate/free workload across
// every open session, then reports readiness to systemd (a no-op if
// memtreed isn't running under systemd).
func (mgr *MemtreeMgr) Start() error {
	for _, id := range mgr.sessIDs {
		if err := mgr.runWorkload(id); err != nil {
			return fmt.Errorf("workload failed on session %s: %v", id, err)
		}
	}

	systemd.SdNotify(false, systemd.SdNotifyReady)

	if err := writePidFile(memtreedPidFile); err != nil {
		logrus.Warnf("failed to create pid file: %v", err)
	}

	logrus.Info("Ready ...")
	return nil
}

// Stop tells systemd memtreed is shutting down and closes every open
// session, releasing their arenas.
func (mgr *MemtreeMgr) Stop() error {
	logrus.Info("Stopping (gracefully) ...")

	systemd.SdNotify(false, systemd.SdNotifyStopping)

	if err := mgr.sessions.CloseAll(); err != nil {
		return fmt.Errorf("failed to close sessions cleanly: %v", err)
	}

	os.Remove(memtreedPidFile)
	return nil
}

// runWorkload allocates and frees a mix of sizes against the named
// session, in an order designed to exercise both coalescing (freeing
// neighbors) and splitting (freeing a big block, then allocating a
// small one), then logs the resulting metrics and writes an audit dump.
// It does not run the allocator's invariant validator.
func (mgr *MemtreeMgr) runWorkload(id string) error {
	sizes := make([]int, mgr.cfg.workloadLen)
	for i := range sizes {
		sizes[i] = 1 + rand.Intn(4096)
	}

	ptrs := make([]unsafe.Pointer, 0, len(sizes))
	for _, s := range sizes {
		p, err := mgr.sessions.Allocate(id, s)
		if err != nil {
			return err
		}
		ptrs = append(ptrs, p)
	}

	// Free a big block, then allocate a small one so the reclaimed chunk
	// is split and its remainder goes back into the free tree.
	big, err := mgr.sessions.Allocate(id, 4096)
	if err != nil {
		return err
	}
	if err := mgr.sessions.Free(id, big); err != nil {
		return err
	}
	small, err := mgr.sessions.Allocate(id, 1)
	if err != nil {
		return err
	}
	ptrs = append(ptrs, small)

	// Free every other pointer first to create fragmentation, then the
	// rest to drive coalescing.
	for i := 0; i < len(ptrs); i += 2 {
		if err := mgr.sessions.Free(id, ptrs[i]); err != nil {
			return err
		}
	}
	for i := 1; i < len(ptrs); i += 2 {
		if err := mgr.sessions.Free(id, ptrs[i]); err != nil {
			return err
		}
	}

	metrics, err := mgr.sessions.Metrics(id)
	if err != nil {
		return err
	}
	logrus.Infof("session %s workload done: %+v", id, metrics)

	return mgr.sessions.Audit(id, logrus.StandardLogger().Out)
}

func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
