package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/osutil"
	"go.abhg.dev/stax/internal/silog"
	"go.abhg.dev/stax/internal/stack"
	"go.abhg.dev/stax/internal/state"
)

// GitRepository is the subset of [git.Repository] a transaction needs:
// resolving branch tips for snapshots and resetting refs for undo.
type GitRepository interface {
	BranchHash(ctx context.Context, name string) (git.Hash, error)
	SetRef(ctx context.Context, req git.SetRefRequest) error
}

var _ GitRepository = (*git.Repository)(nil)

// MetadataStore is the subset of [state.Store] a transaction needs.
type MetadataStore interface {
	Lookup(ctx context.Context, branch string) (*state.Metadata, error)
	Update(ctx context.Context, branch string, md *state.Metadata) error
}

var _ MetadataStore = (*state.Store)(nil)

// Tx is an open transaction: a receipt being written plus the held
// advisory lock.
type Tx struct {
	stateDir string
	path     string
	receipt  Receipt
	lock     *Lock
	dryRun   bool

	repo  GitRepository
	store MetadataStore
	log   *silog.Logger
}

// BeginOptions configures [Begin].
type BeginOptions struct {
	// DryRun makes the transaction ephemeral: no lock, no receipt
	// file. Snapshot and record calls still work in memory.
	DryRun bool

	Log *silog.Logger
}

// Begin opens a transaction of the given kind, acquiring the advisory
// lock and creating a new receipt sealed as in-progress.
// Returns [*LockHeldError] if another transaction is running.
func Begin(_ context.Context, stateDir string, kind OpKind, repo GitRepository, store MetadataStore, opts BeginOptions) (*Tx, error) {
	log := opts.Log
	if log == nil {
		log = silog.Nop()
	}

	now := time.Now()
	tx := &Tx{
		stateDir: stateDir,
		dryRun:   opts.DryRun,
		repo:     repo,
		store:    store,
		log:      log,
		receipt: Receipt{
			OpKind:    kind,
			Outcome:   Outcome{State: OutcomeInProgress},
			StartedAt: now,
		},
	}
	if opts.DryRun {
		return tx, nil
	}

	lock, err := acquireLock(stateDir, LockInfo{
		Op:        kind,
		StartedAt: now,
		PID:       os.Getpid(),
	})
	if err != nil {
		return nil, err
	}
	tx.lock = lock

	if err := os.MkdirAll(receiptsDir(stateDir), 0o755); err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("create receipts directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", now.UTC().Format("20060102T150405"), kind)
	tx.path = filepath.Join(receiptsDir(stateDir), name)
	if err := tx.flush(); err != nil {
		_ = lock.Release()
		return nil, err
	}
	if err := tx.updateLatest(); err != nil {
		_ = lock.Release()
		return nil, err
	}
	return tx, nil
}

// Reopen resumes the latest receipt, which must be in-progress,
// reacquiring the advisory lock. Used by the continue command after a
// conflict suspension.
func Reopen(_ context.Context, stateDir string, repo GitRepository, store MetadataStore, opts BeginOptions) (*Tx, error) {
	log := opts.Log
	if log == nil {
		log = silog.Nop()
	}

	receipt, path, err := LatestReceipt(stateDir)
	if err != nil {
		return nil, err
	}
	if receipt.Outcome.State != OutcomeInProgress {
		return nil, fmt.Errorf("nothing to continue: last %v finished with %v",
			receipt.OpKind, receipt.Outcome.State)
	}

	lock, err := acquireLock(stateDir, LockInfo{
		Op:        receipt.OpKind,
		StartedAt: receipt.StartedAt,
		PID:       os.Getpid(),
	})
	if err != nil {
		return nil, err
	}

	return &Tx{
		stateDir: stateDir,
		path:     path,
		receipt:  *receipt,
		lock:     lock,
		repo:     repo,
		store:    store,
		log:      log,
	}, nil
}

// Receipt returns a copy of the transaction's current receipt.
func (tx *Tx) Receipt() Receipt { return tx.receipt }

// Kind reports the transaction's operation kind.
func (tx *Tx) Kind() OpKind { return tx.receipt.OpKind }

// SetStartedOn records the branch the user had checked out when the
// transaction began.
func (tx *Tx) SetStartedOn(branch string) error {
	tx.receipt.StartedOn = branch
	return tx.flush()
}

// SetPlanSummary records the plan summary in the receipt.
func (tx *Tx) SetPlanSummary(s stack.PlanSummary) error {
	tx.receipt.PlanSummary = s
	return tx.flush()
}

// Snapshot records the before-state of every planned branch: its
// current tip, parent, and recorded parent revision. Branches already
// snapshotted are left untouched, so a resumed transaction keeps its
// original before-state.
func (tx *Tx) Snapshot(ctx context.Context, branches []string) error {
	for _, name := range branches {
		if tx.receipt.Branch(name) != nil {
			continue
		}

		hash, err := tx.repo.BranchHash(ctx, name)
		if err != nil {
			return fmt.Errorf("snapshot %v: %w", name, err)
		}

		rec := BranchRecord{Name: name, BeforeOID: hash}
		if md, err := tx.store.Lookup(ctx, name); err == nil {
			rec.ParentBefore = md.Parent
			rec.ParentRevisionBefore = md.ParentRevision
		} else if !errors.Is(err, state.ErrNotExist) {
			return fmt.Errorf("snapshot metadata of %v: %w", name, err)
		}

		tx.receipt.Branches = append(tx.receipt.Branches, rec)
	}
	return tx.flush()
}

// RecordAfter records a branch's state after its step completed:
// its new tip and, if changed, its new parent.
func (tx *Tx) RecordAfter(ctx context.Context, name string) error {
	rec := tx.receipt.Branch(name)
	if rec == nil {
		return fmt.Errorf("branch %v is not in the transaction snapshot", name)
	}

	hash, err := tx.repo.BranchHash(ctx, name)
	if err != nil {
		return fmt.Errorf("record %v: %w", name, err)
	}
	rec.AfterOID = hash

	if md, err := tx.store.Lookup(ctx, name); err == nil {
		if md.Parent != rec.ParentBefore {
			rec.ParentAfter = md.Parent
		}
	} else if !errors.Is(err, state.ErrNotExist) {
		return fmt.Errorf("record metadata of %v: %w", name, err)
	}

	return tx.flush()
}

// RecordDelete records that the transaction deleted the branch.
func (tx *Tx) RecordDelete(name string) error {
	rec := tx.receipt.Branch(name)
	if rec == nil {
		return fmt.Errorf("branch %v is not in the transaction snapshot", name)
	}
	rec.Deleted = true
	return tx.flush()
}

// RecordSkip records that a planned step deliberately did not touch
// the branch, with the reason.
func (tx *Tx) RecordSkip(name, reason string) error {
	rec := tx.receipt.Branch(name)
	if rec == nil {
		return fmt.Errorf("branch %v is not in the transaction snapshot", name)
	}
	rec.Skipped = reason
	return tx.flush()
}

// FinishOK seals the receipt as successful and releases the lock.
func (tx *Tx) FinishOK() error {
	now := time.Now()
	tx.receipt.Outcome = Outcome{State: OutcomeOK}
	tx.receipt.FinishedAt = &now
	if err := tx.flush(); err != nil {
		return err
	}
	return tx.lock.Release()
}

// FinishErr seals the receipt as failed and releases the lock.
// phase and branch locate the failure; either may be empty.
func (tx *Tx) FinishErr(msg, phase, branch string) error {
	now := time.Now()
	tx.receipt.Outcome = Outcome{
		State:   OutcomeErr,
		Message: msg,
		Phase:   phase,
		Branch:  branch,
	}
	tx.receipt.FinishedAt = &now
	if err := tx.flush(); err != nil {
		return err
	}
	return tx.lock.Release()
}

// Suspend leaves the receipt in-progress with the suspension point
// recorded, and releases the lock so that continue (or another
// process) can pick the transaction back up. The user resolves the
// conflict while no lock is held.
func (tx *Tx) Suspend(msg, phase, branch string) error {
	tx.receipt.Outcome = Outcome{
		State:   OutcomeInProgress,
		Message: msg,
		Phase:   phase,
		Branch:  branch,
	}
	if err := tx.flush(); err != nil {
		return err
	}
	return tx.lock.Release()
}

// flush writes the receipt atomically: a temp file in the same
// directory, then a rename over the destination.
func (tx *Tx) flush() error {
	if tx.dryRun || tx.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(&tx.receipt, "", "  ")
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(tx.path)
	tmp, err := osutil.TempFilePath(dir, "receipt-*")
	if err != nil {
		return fmt.Errorf("create temporary receipt: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write receipt: %w", err)
	}
	if err := os.Rename(tmp, tx.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace receipt: %w", err)
	}
	return nil
}

// updateLatest points the latest.json pointer at this transaction's
// receipt file. A symlink where supported, a plain file naming the
// receipt otherwise.
func (tx *Tx) updateLatest() error {
	dir := filepath.Dir(tx.path)
	link := filepath.Join(dir, latestName)
	target := filepath.Base(tx.path)

	_ = os.Remove(link)
	if err := os.Symlink(target, link); err == nil {
		return nil
	}
	if err := os.WriteFile(link, []byte(target+"\n"), 0o644); err != nil {
		return fmt.Errorf("update latest receipt pointer: %w", err)
	}
	return nil
}
