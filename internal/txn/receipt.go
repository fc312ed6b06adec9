// Package txn records restack and sync transactions as on-disk
// receipts: the plan that was about to run, each branch's tip before
// and after its rebase, and how the operation ended.
//
// Receipts live under the repository's common .git directory so they
// are visible from every worktree. They drive three things: progress
// reporting, resuming after a rebase conflict, and undo.
package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.abhg.dev/stax/internal/git"
	"go.abhg.dev/stax/internal/stack"
)

const (
	// stateDirName is the tool's directory under the Git common dir.
	stateDirName = "stax"

	receiptsDirName = "receipts"
	latestName      = "latest.json"
)

// OpKind identifies the operation a receipt belongs to.
type OpKind string

// Operations that run under a transaction.
const (
	OpRestack        OpKind = "restack"
	OpUpstackRestack OpKind = "upstack_restack"
	OpAllRestack     OpKind = "all_restack"
	OpSync           OpKind = "sync"
)

// Phases an operation can fail or suspend in.
const (
	PhaseFetch       = "fetch"
	PhaseTrunkUpdate = "trunk_update"
	PhaseDelete      = "delete"
	PhaseReparent    = "reparent"
	PhaseRebase      = "rebase"
)

// OutcomeState is how a transaction ended, or that it has not.
type OutcomeState string

// Outcome states.
const (
	OutcomeOK         OutcomeState = "ok"
	OutcomeErr        OutcomeState = "err"
	OutcomeInProgress OutcomeState = "in_progress"
)

// Outcome is the final (or current) status of a transaction.
type Outcome struct {
	State OutcomeState `json:"state"`

	// Message describes the failure for OutcomeErr, or what the user
	// must do next for a suspended OutcomeInProgress.
	Message string `json:"message,omitempty"`

	// Phase is the phase the operation stopped in.
	Phase string `json:"phase,omitempty"`

	// Branch is the branch the operation stopped on, if any.
	Branch string `json:"branch,omitempty"`
}

// BranchRecord is the per-branch entry of a receipt.
type BranchRecord struct {
	Name string `json:"name"`

	// BeforeOID is the branch tip when the transaction began.
	BeforeOID git.Hash `json:"beforeOid"`

	// AfterOID is the branch tip after its step completed.
	// Empty while the step has not run.
	AfterOID git.Hash `json:"afterOid,omitempty"`

	// ParentBefore and ParentRevisionBefore snapshot the branch's
	// metadata at transaction begin, so undo can restore it.
	ParentBefore         string   `json:"parentBefore"`
	ParentRevisionBefore git.Hash `json:"parentRevisionBefore,omitempty"`

	// ParentAfter is the branch's parent after its step, when changed
	// by the transaction (sync reparents orphans).
	ParentAfter string `json:"parentAfter,omitempty"`

	// Skipped records why a planned step did not touch the branch,
	// e.g. a sync deletion skipped because the branch is checked out
	// in another worktree.
	Skipped string `json:"skipped,omitempty"`

	// Deleted records that the transaction deleted the branch
	// (sync removing a merged branch). Undo recreates it at
	// BeforeOID.
	Deleted bool `json:"deleted,omitempty"`
}

// Receipt is the durable record of one transaction.
type Receipt struct {
	OpKind      OpKind            `json:"opKind"`
	PlanSummary stack.PlanSummary `json:"planSummary"`
	Branches    []BranchRecord    `json:"branches"`
	Outcome     Outcome           `json:"outcome"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty"`

	// StartedOn is the branch checked out in the invoking worktree
	// when the transaction began. Rebases move HEAD, so the user is
	// returned here when the operation (or its continue) finishes.
	StartedOn string `json:"startedOn,omitempty"`

	// Undone is set once an undo has restored this receipt's
	// before-state, so a second undo does not repeat it.
	Undone bool `json:"undone,omitempty"`
}

// Branch returns the record for the named branch, or nil.
func (r *Receipt) Branch(name string) *BranchRecord {
	for i := range r.Branches {
		if r.Branches[i].Name == name {
			return &r.Branches[i]
		}
	}
	return nil
}

// Remaining reports the planned branches whose step has not completed,
// in plan order. After a conflict suspension, the first entry is the
// conflicted branch itself.
func (r *Receipt) Remaining() []string {
	var names []string
	for _, b := range r.Branches {
		if b.AfterOID == "" && b.Skipped == "" && !b.Deleted {
			names = append(names, b.Name)
		}
	}
	return names
}

// StateDir reports the tool's state directory for a repository with
// the given Git common directory.
func StateDir(gitCommonDir string) string {
	return filepath.Join(gitCommonDir, stateDirName)
}

func receiptsDir(stateDir string) string {
	return filepath.Join(stateDir, receiptsDirName)
}

// ErrNoReceipt indicates that no receipt has been recorded yet.
var ErrNoReceipt = errors.New("no receipt found")

// LatestReceipt loads the most recent receipt in the state directory,
// along with the path it was read from.
func LatestReceipt(stateDir string) (*Receipt, string, error) {
	dir := receiptsDir(stateDir)

	path := filepath.Join(dir, latestName)
	if target, err := os.Readlink(path); err == nil {
		path = filepath.Join(dir, target)
	} else {
		// The pointer may be a plain file naming the receipt on
		// filesystems without symlink support.
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, "", ErrNoReceipt
			}
			return nil, "", fmt.Errorf("read latest receipt pointer: %w", err)
		}
		path = filepath.Join(dir, strings.TrimSpace(string(data)))
	}

	r, err := readReceipt(path)
	if err != nil {
		return nil, "", err
	}
	return r, path, nil
}

// Receipts lists all receipt files in the state directory, newest
// first. Receipt file names begin with a sortable timestamp.
func Receipts(stateDir string) ([]string, error) {
	entries, err := os.ReadDir(receiptsDir(stateDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list receipts: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".json") && e.Name() != latestName {
			paths = append(paths, filepath.Join(receiptsDir(stateDir), e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

func readReceipt(path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoReceipt
		}
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode receipt %v: %w", path, err)
	}
	return &r, nil
}
