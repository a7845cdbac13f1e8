package attendance

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

var (
	errSuperseded = errors.New("superseded by a newer connection")
	errRemoteBusy = errors.New("remote store not ready")
)

// Connect validates the credentials, then reads the remote document: a valid one replaces
// the local collections wholesale, otherwise the local state seeds it (when there is at
// least one group). On success the credentials are persisted and polling starts.
// Any failure is returned as a *ConnectionError. A previous connection stays in place
// (credentials, remote and poll loop); without one the tracker is left disconnected.
func (t *Tracker) Connect(ctx context.Context, cfg RemoteConfig) error {
	cfg.Clean()
	if err := t.validate.Struct(cfg); err != nil {
		return err
	}
	return t.connect(ctx, cfg, false)
}

// priorConnection is what a reconnect restores when its handshake fails.
type priorConnection struct {
	cfg              *RemoteConfig
	remote           RemoteStore
	established      bool
	lastRemoteUpdate int64
	status           CloudStatus
	cloudErr         string
	pushPending      bool
}

// connect runs the handshake for a new generation. At startup a failure keeps the
// credentials and the poll loop, which retries the handshake on every tick.
func (t *Tracker) connect(ctx context.Context, cfg RemoteConfig, startup bool) error {
	t.mu.Lock()
	prev := priorConnection{
		cfg:              t.remoteCfg,
		remote:           t.remote,
		established:      t.established,
		lastRemoteUpdate: t.lastRemoteUpdate,
		status:           t.status,
		cloudErr:         t.cloudErr,
		pushPending:      t.pushPending || t.pushTimer != nil,
	}
	t.stopSyncLocked()
	t.gen++
	gen := t.gen
	t.remoteCfg = &cfg
	t.remote = nil
	t.established = false
	t.lastRemoteUpdate = 0
	t.status = StatusSyncing
	t.cloudErr = ""
	t.inFlight = true
	t.mu.Unlock()

	remote, err := t.dial(ctx, cfg)
	if err == nil {
		err = t.establish(ctx, gen, remote)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		closeRemote(remote)
		if prev.remote != remote {
			closeRemote(prev.remote)
		}
		return newConnectionError(errSuperseded)
	}
	t.inFlight = false

	if err != nil {
		cerr := newConnectionError(err)
		switch {
		case startup:
			t.status = StatusError
			t.cloudErr = cerr.Error()
			t.remote = remote
			t.startPollLocked(gen)
		case prev.cfg != nil:
			if remote != prev.remote {
				closeRemote(remote)
			}
			t.restoreLocked(prev)
			t.logger.Warn(fmt.Sprintf("kept %s document %s: %v", prev.cfg.Provider, prev.cfg.BinID, cerr), cerr)
		default:
			closeRemote(remote)
			t.status = StatusError
			t.cloudErr = cerr.Error()
			t.remoteCfg = nil
			if derr := t.store.Delete(ctx, KeyRemoteConfig); derr != nil {
				t.logger.Error(fmt.Sprintf("deleting cloud config: %v", derr), derr)
			}
		}
		return cerr
	}

	if prev.remote != nil && prev.remote != remote {
		closeRemote(prev.remote)
	}
	t.remote = remote
	t.status = StatusIdle
	if err := t.store.Save(ctx, KeyRemoteConfig, cfg); err != nil {
		t.logger.Error(fmt.Sprintf("saving cloud config: %v", err), err)
	}
	t.startPollLocked(gen)
	t.flushPendingLocked()
	t.logger.Info(fmt.Sprintf("connected to %s document %s", cfg.Provider, cfg.BinID))
	return nil
}

// restoreLocked puts a prior connection back under a fresh generation, so nothing
// started for the failed attempt can touch it.
func (t *Tracker) restoreLocked(prev priorConnection) {
	t.gen++
	t.remoteCfg = prev.cfg
	t.remote = prev.remote
	t.established = prev.established
	t.lastRemoteUpdate = prev.lastRemoteUpdate
	t.status = prev.status
	t.cloudErr = prev.cloudErr
	t.pushPending = prev.pushPending
	if t.status == StatusSyncing {
		// the interrupted push belonged to the old generation
		t.status = StatusIdle
		t.pushPending = t.pushPending || t.established
	}
	t.startPollLocked(t.gen)
	t.flushPendingLocked()
}

// establish reads the remote document for the first time in a generation and either
// adopts it or seeds it with the local state. It must be called without t.mu held.
func (t *Tracker) establish(ctx context.Context, gen uint64, remote RemoteStore) error {
	raw, err := t.fetch(ctx, remote)
	if err != nil {
		return err
	}
	payload, report, derr := DecodePayload(raw, t.validate)
	if derr != nil {
		t.logger.Warn(fmt.Sprintf("ignoring remote document: %v", derr), derr)
	}
	t.recordDropped(report)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return errSuperseded
	}
	if payload != nil && derr == nil {
		t.applyLocked(ctx, payload)
		if t.lastRemoteUpdate == 0 {
			t.lastRemoteUpdate = t.nowMs()
		}
		t.established = true
		t.mu.Unlock()
		return nil
	}
	if len(t.groups) == 0 {
		t.established = true
		t.mu.Unlock()
		return nil
	}
	seed := t.snapshotLocked()
	t.mu.Unlock()

	if err := t.replace(ctx, remote, seed); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return errSuperseded
	}
	t.pushedLocked(seed)
	t.established = true
	return nil
}

// Disconnect drops the credentials and stops all remote activity.
// Local collections are left as they are.
func (t *Tracker) Disconnect(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopSyncLocked()
	t.gen++
	t.remoteCfg = nil
	closeRemote(t.remote)
	t.remote = nil
	t.established = false
	t.inFlight = false
	t.lastRemoteUpdate = 0
	t.lastSyncedAt = 0
	t.status = StatusDisconnected
	t.cloudErr = ""
	if err := t.store.Delete(ctx, KeyRemoteConfig); err != nil {
		t.logger.Error(fmt.Sprintf("deleting cloud config: %v", err), err)
	}
}

// Refresh polls the remote document right away and reports whether a snapshot was applied.
func (t *Tracker) Refresh(ctx context.Context) (bool, error) {
	t.mu.Lock()
	if t.remoteCfg == nil {
		t.mu.Unlock()
		return false, ErrNotConnected
	}
	gen := t.gen
	t.mu.Unlock()

	return t.poll(ctx, gen)
}

// CloudState returns the current synchronization status; the API key is masked.
func (t *Tracker) CloudState() CloudState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := CloudState{Status: t.status, Error: t.cloudErr, LastSyncedAt: t.lastSyncedAt}
	if t.remoteCfg != nil {
		masked := t.remoteCfg.Masked()
		state.Config = &masked
	}
	return state
}

// RemoteConfig returns the unmasked credentials, used to build share links.
func (t *Tracker) RemoteConfig() (RemoteConfig, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.remoteCfg == nil {
		return RemoteConfig{}, false
	}
	return *t.remoteCfg, true
}

// Push

// schedulePushLocked (re)arms the debounce timer. Bursts of mutations coalesce into one push.
func (t *Tracker) schedulePushLocked() {
	if !t.loaded || t.closed || t.remoteCfg == nil {
		return
	}
	if t.pushTimer != nil {
		t.pushTimer.Stop()
	}
	t.pushSeq++
	gen, seq := t.gen, t.pushSeq
	t.pushTimer = time.AfterFunc(t.debounceDelay, func() { t.push(gen, seq) })
}

// flushPendingLocked schedules a push that could not run earlier.
func (t *Tracker) flushPendingLocked() {
	if t.pushPending && t.established && !t.inFlight {
		t.pushPending = false
		t.schedulePushLocked()
	}
}

func (t *Tracker) push(gen, seq uint64) {
	t.mu.Lock()
	if t.closed || gen != t.gen || seq != t.pushSeq {
		t.mu.Unlock()
		return
	}
	t.pushTimer = nil
	if !t.established || t.inFlight || t.remote == nil {
		t.pushPending = true
		t.mu.Unlock()
		return
	}
	payload := t.snapshotLocked()
	remote := t.remote
	t.inFlight = true
	t.status = StatusSyncing
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	err := t.replace(t.ctx, remote, payload)

	t.mu.Lock()
	defer t.mu.Unlock()
	if serr := t.pushDoneLocked(gen, payload, err); serr != nil {
		t.logger.Error(serr.Error(), err)
		return
	}
	t.flushPendingLocked()
}

// pushDoneLocked records the outcome of a push started in generation gen.
func (t *Tracker) pushDoneLocked(gen uint64, payload SyncPayload, err error) *SyncError {
	if gen != t.gen {
		return nil
	}
	t.inFlight = false

	if err != nil {
		serr := &SyncError{Op: "push", Err: err}
		t.status = StatusError
		t.cloudErr = serr.Error()
		t.pushPending = true // retried after the next poll
		t.metrics.Pushes.WithLabelValues("error").Inc()
		return serr
	}
	t.pushedLocked(payload)
	t.status = StatusIdle
	t.cloudErr = ""
	t.metrics.Pushes.WithLabelValues("ok").Inc()
	return nil
}

// Flush pushes a scheduled or pending change right away instead of waiting for the
// debounce delay. It is a no-op when disconnected or when nothing is due.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.closed || t.remoteCfg == nil || (t.pushTimer == nil && !t.pushPending) {
		t.mu.Unlock()
		return nil
	}
	if !t.established || t.inFlight || t.remote == nil {
		t.mu.Unlock()
		return &SyncError{Op: "push", Err: errRemoteBusy}
	}
	if t.pushTimer != nil {
		t.pushTimer.Stop()
		t.pushTimer = nil
	}
	t.pushSeq++ // a timer that already fired becomes stale
	t.pushPending = false
	gen := t.gen
	payload := t.snapshotLocked()
	remote := t.remote
	t.inFlight = true
	t.status = StatusSyncing
	t.mu.Unlock()

	err := t.replace(ctx, remote, payload)

	t.mu.Lock()
	defer t.mu.Unlock()
	if serr := t.pushDoneLocked(gen, payload, err); serr != nil {
		return serr
	}
	return nil
}

func (t *Tracker) pushedLocked(payload SyncPayload) {
	t.lastRemoteUpdate = payload.UpdatedAt
	t.lastSyncedAt = t.nowMs()
	t.metrics.LastSync.Set(float64(t.lastSyncedAt) / 1000)
}

// Poll

func (t *Tracker) startPollLocked(gen uint64) {
	if t.closed {
		return
	}
	ctx, cancel := context.WithCancel(t.ctx)
	t.stopPoll = cancel
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := t.poll(ctx, gen); err != nil && errors.Cause(err) != errSuperseded {
					t.logger.Warn(err.Error(), err)
				}
			}
		}
	}()
}

// poll fetches the remote document once. Ticks overlapping a push or another poll are skipped.
// Failures are returned but never change the status of an established connection.
func (t *Tracker) poll(ctx context.Context, gen uint64) (applied bool, err error) {
	t.mu.Lock()
	if t.closed || gen != t.gen || t.remoteCfg == nil {
		t.mu.Unlock()
		return false, errSuperseded
	}
	if t.inFlight {
		t.metrics.Polls.WithLabelValues("skipped").Inc()
		t.mu.Unlock()
		return false, nil
	}
	t.inFlight = true
	remote, cfg, established := t.remote, *t.remoteCfg, t.established
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.gen {
			return
		}
		t.inFlight = false
		if err != nil {
			t.metrics.Polls.WithLabelValues("error").Inc()
		} else {
			t.metrics.Polls.WithLabelValues("ok").Inc()
		}
		t.flushPendingLocked()
	}()

	if !established {
		return t.retryHandshake(ctx, gen, cfg, remote)
	}

	raw, err := t.fetch(ctx, remote)
	if err != nil {
		return false, &SyncError{Op: "poll", Err: err}
	}
	payload, report, err := DecodePayload(raw, t.validate)
	t.recordDropped(report)
	if err != nil {
		return false, &SyncError{Op: "poll", Err: err}
	}
	if payload == nil {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return false, errSuperseded
	}
	bootstrap := len(t.groups) == 0 && len(payload.Groups) > 0
	if payload.UpdatedAt <= t.lastRemoteUpdate && !bootstrap {
		return false, nil
	}
	t.applyLocked(ctx, payload)
	t.logger.Info(fmt.Sprintf("applied remote snapshot (updatedAt=%d)", payload.UpdatedAt))
	return true, nil
}

// retryHandshake completes a connection whose startup handshake failed.
func (t *Tracker) retryHandshake(ctx context.Context, gen uint64, cfg RemoteConfig, remote RemoteStore) (bool, error) {
	var err error
	// a remote dialed here is closed unless the tracker keeps it
	dialed := remote == nil
	if dialed {
		if remote, err = t.dial(ctx, cfg); err != nil {
			return false, &SyncError{Op: "poll", Err: err}
		}
	}
	if err = t.establish(ctx, gen, remote); err != nil {
		t.mu.Lock()
		if gen == t.gen {
			t.remote = remote
			t.cloudErr = newConnectionError(err).Error()
		} else if dialed {
			closeRemote(remote)
		}
		t.mu.Unlock()
		return false, &SyncError{Op: "poll", Err: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		if dialed {
			closeRemote(remote)
		}
		return false, errSuperseded
	}
	t.remote = remote
	t.status = StatusIdle
	t.cloudErr = ""
	if err := t.store.Save(ctx, KeyRemoteConfig, cfg); err != nil {
		t.logger.Error(fmt.Sprintf("saving cloud config: %v", err), err)
	}
	t.logger.Info(fmt.Sprintf("connected to %s document %s", cfg.Provider, cfg.BinID))
	return true, nil
}

// applyLocked overwrites the three collections with a remote snapshot.
// Pending local changes are discarded: the remote document is the newer full write.
func (t *Tracker) applyLocked(ctx context.Context, payload *SyncPayload) {
	t.groups = payload.Groups
	t.students = payload.Students
	t.sessions = payload.Sessions
	t.lastRemoteUpdate = payload.UpdatedAt
	t.lastSyncedAt = t.nowMs()

	if t.pushTimer != nil {
		t.pushTimer.Stop()
		t.pushTimer = nil
	}
	t.pushPending = false

	t.persistLocked(ctx, KeySessions, KeyGroups, KeyStudents)
	t.metrics.AppliedRemote.Inc()
	t.metrics.LastSync.Set(float64(t.lastSyncedAt) / 1000)
	t.metrics.ActiveSessions.Set(float64(t.countActiveLocked()))
}

// snapshotLocked copies the full state with a fresh timestamp.
func (t *Tracker) snapshotLocked() SyncPayload {
	return SyncPayload{
		Sessions:  append([]Session{}, t.sessions...),
		Groups:    append([]Group{}, t.groups...),
		Students:  append([]Student{}, t.students...),
		UpdatedAt: t.nowMs(),
	}
}

func (t *Tracker) stopSyncLocked() {
	if t.stopPoll != nil {
		t.stopPoll()
		t.stopPoll = nil
	}
	if t.pushTimer != nil {
		t.pushTimer.Stop()
		t.pushTimer = nil
	}
	t.pushPending = false
}

// closeRemote releases clients holding connections (Firestore).
func closeRemote(r RemoteStore) {
	if c, ok := r.(io.Closer); ok && r != nil {
		_ = c.Close()
	}
}

func (t *Tracker) fetch(ctx context.Context, remote RemoteStore) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()
	return remote.Fetch(ctx)
}

func (t *Tracker) replace(ctx context.Context, remote RemoteStore, payload SyncPayload) error {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()
	return remote.Replace(ctx, payload)
}

func (t *Tracker) recordDropped(report DecodeReport) {
	if n := report.Dropped(); n > 0 {
		t.metrics.DroppedEntities.Add(float64(n))
		t.logger.Warn(fmt.Sprintf("dropped %d invalid remote entities", n), map[string]interface{}{
			"groups":   report.DroppedGroups,
			"students": report.DroppedStudents,
			"sessions": report.DroppedSessions,
		})
	}
}
