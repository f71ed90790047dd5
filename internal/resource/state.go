package resource

import (
	"sync"
	"time"
)

// Constants sourced from original_source/src/master/master_heartbeat.hpp,
// named by spec.md §4.4.1/§4.4.2 but only given literal values there.
const (
	MaxChangeModeDiffToTerm = 12
	MaxChangeModeDiffToKill = 24
	RecoveryDelay           = 30 * time.Second
)

// Config carries the subset of spec.md §6's resource-supervisor timing
// parameters.
type Config struct {
	ChangeModeInterval          time.Duration
	ProcessStartConfirmInterval time.Duration
	ProcessDeregConfirmInterval time.Duration
	MaxProcessStartConfirm      int
	MaxProcessDeregConfirm      int
	UpdateHostnameInterval      time.Duration
	CheckDiskFailureInterval    time.Duration
	UnacceptableRestartWindow   time.Duration
}

// State is the resource-supervisor root (spec.md §3 "Resource root"). All
// mutation happens under mu, from the single resource job-queue worker or
// the control-socket registration handler.
type State struct {
	mu sync.RWMutex

	processes map[string]*Process
	shutdown  bool

	deactivateInfo *DeactivateInfo
	cfg            Config
}

// New returns an empty resource root.
func New(cfg Config) *State {
	return &State{processes: make(map[string]*Process), cfg: cfg}
}

// Config returns the timing configuration this root was built with.
func (s *State) Config() Config {
	return s.cfg
}

// Register inserts or updates the roster entry for argv, per spec.md
// §4.4.4's registration path: a brand new argv becomes REGISTERED; an argv
// already STARTED (we just spawned it) must match pid, becoming
// NOT_REGISTERED awaiting confirmation, or the registration is rejected.
func (s *State) Register(argv, execPath string, args []string, kind Kind, pid int) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.processes[argv]; ok {
		if p.State == StateStarted {
			if p.Pid != pid {
				return nil, errPidMismatch(p.Pid, pid)
			}
			p.State = StateNotRegistered
			return p, nil
		}
		p.Pid = pid
		p.State = StateRegistered
		return p, nil
	}

	p := &Process{
		Argv:              argv,
		ExecPath:          execPath,
		Args:              args,
		Kind:              kind,
		Pid:               pid,
		State:             StateRegistered,
		FirstRegisteredAt: time.Now(),
	}
	s.processes[argv] = p
	return p, nil
}

// Put inserts p as-is (it does not change p's state), overwriting any prior
// entry with the same argv. Start calls it before enqueuing PROC_START, and
// PROC_START calls it again after launching the child.
func (s *State) Put(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[p.Argv] = p
}

// Lookup returns the entry for argv.
func (s *State) Lookup(argv string) (*Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[argv]
	return p, ok
}

// All returns a snapshot slice of every roster entry (pointers, for the
// single-job-worker-writes model — callers other than the resource worker
// must treat these as read-only).
func (s *State) All() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, p)
	}
	return out
}

// Remove deletes argv's roster entry (spec.md §4.4.2: "on confirmed exit,
// remove the entry from the roster").
func (s *State) Remove(argv string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processes, argv)
}

// SetShutdown marks the root shutting down (spec.md §4.5 deactivate.prepare).
func (s *State) SetShutdown(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = v
}

// IsShutdown reports the shutdown flag.
func (s *State) IsShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

// IsDeactivationReady reports spec.md §4.5's finalize gate: every process
// entry has a null connection.
func (s *State) IsDeactivationReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.processes {
		if p.Conn != nil {
			return false
		}
	}
	return true
}

// SnapshotDeactivateInfo records the currently-active SERVER pids into
// DeactivateInfo, called once by CLEANUP_ALL (spec.md §4.4.2) unless an
// immediate deactivate was requested.
func (s *State) SnapshotDeactivateInfo() *DeactivateInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := &DeactivateInfo{At: time.Now()}
	for _, p := range s.processes {
		if p.Kind == KindServer && p.State == StateRegisteredAndActive {
			info.ServerPids = append(info.ServerPids, p.Pid)
		}
	}
	s.deactivateInfo = info
	return info
}

// LastDeactivateInfo returns the most recent snapshot, if any.
func (s *State) LastDeactivateInfo() (*DeactivateInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deactivateInfo == nil {
		return nil, false
	}
	return s.deactivateInfo, true
}

// Clean empties the roster, called during deactivate.finalize (spec.md §4.5).
func (s *State) Clean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes = make(map[string]*Process)
	s.deactivateInfo = nil
}

type pidMismatchError struct {
	want, got int
}

func (e *pidMismatchError) Error() string {
	return "resource: registration pid mismatch"
}

func errPidMismatch(want, got int) error {
	return &pidMismatchError{want: want, got: got}
}
