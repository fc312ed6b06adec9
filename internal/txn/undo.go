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
	"go.abhg.dev/stax/internal/state"
)

// ErrUndoInProgress indicates that undo was refused because the latest
// transaction is still in progress.
var ErrUndoInProgress = errors.New("an operation is in progress: finish it with continue, or abort it first")

// PartialUndoError indicates that undo restored some branches and then
// stopped: a branch moved since the transaction finished, so resetting
// it would discard work.
type PartialUndoError struct {
	Branch   string
	Restored []string
	Err      error
}

func (e *PartialUndoError) Error() string {
	return fmt.Sprintf("undo stopped at branch %v (restored so far: %v): %v",
		e.Branch, e.Restored, e.Err)
}

func (e *PartialUndoError) Unwrap() error { return e.Err }

// UndoResult reports what an undo restored.
type UndoResult struct {
	OpKind    OpKind
	StartedAt time.Time
	Restored  []string
}

// Undo reverses the most recent successful transaction: every branch
// in the receipt is reset to its before-OID in reverse plan order, and
// its metadata parent and parent revision are restored.
//
// Each ref reset is guarded by the receipt's after-OID, so a branch
// the user has moved since fails the reset rather than losing work;
// undo then stops with [*PartialUndoError].
func Undo(ctx context.Context, stateDir string, repo GitRepository, store MetadataStore, log *silog.Logger) (*UndoResult, error) {
	if log == nil {
		log = silog.Nop()
	}

	latest, latestPath, err := LatestReceipt(stateDir)
	if err != nil {
		return nil, err
	}
	if latest.Outcome.State == OutcomeInProgress {
		return nil, ErrUndoInProgress
	}

	// Only the most recent successful transaction is undoable.
	receipt, path := latest, latestPath
	if receipt.Outcome.State != OutcomeOK || receipt.Undone {
		paths, err := Receipts(stateDir)
		if err != nil {
			return nil, err
		}
		receipt = nil
		for _, p := range paths {
			r, err := readReceipt(p)
			if err != nil {
				return nil, err
			}
			if r.Outcome.State == OutcomeOK && !r.Undone {
				receipt, path = r, p
				break
			}
		}
		if receipt == nil {
			return nil, fmt.Errorf("%w: nothing to undo", ErrNoReceipt)
		}
	}

	result := &UndoResult{OpKind: receipt.OpKind, StartedAt: receipt.StartedAt}
	for i := len(receipt.Branches) - 1; i >= 0; i-- {
		rec := receipt.Branches[i]
		switch {
		case rec.Deleted:
			// Recreate the deleted branch, requiring that nothing
			// else has taken the name since.
			err := repo.SetRef(ctx, git.SetRefRequest{
				Ref:     "refs/heads/" + rec.Name,
				Hash:    rec.BeforeOID,
				OldHash: git.ZeroHash,
			})
			if err != nil {
				return result, &PartialUndoError{
					Branch:   rec.Name,
					Restored: result.Restored,
					Err:      err,
				}
			}

		case rec.AfterOID == "":
			continue // step never ran; nothing to reverse

		case rec.AfterOID != rec.BeforeOID:
			err := repo.SetRef(ctx, git.SetRefRequest{
				Ref:     "refs/heads/" + rec.Name,
				Hash:    rec.BeforeOID,
				OldHash: rec.AfterOID,
			})
			if err != nil {
				return result, &PartialUndoError{
					Branch:   rec.Name,
					Restored: result.Restored,
					Err:      err,
				}
			}
		}

		if rec.ParentBefore != "" {
			md := &state.Metadata{
				Parent:         rec.ParentBefore,
				ParentRevision: rec.ParentRevisionBefore,
			}
			// Keep PR info: undo reverses refs and parents, not
			// what happened on the forge.
			if cur, err := store.Lookup(ctx, rec.Name); err == nil {
				md.PR = cur.PR
			}
			if err := store.Update(ctx, rec.Name, md); err != nil {
				return result, &PartialUndoError{
					Branch:   rec.Name,
					Restored: result.Restored,
					Err:      err,
				}
			}
		}

		log.Debug("Restored branch", "branch", rec.Name, "oid", rec.BeforeOID)
		result.Restored = append(result.Restored, rec.Name)
	}

	receipt.Undone = true
	if err := writeReceipt(path, receipt); err != nil {
		return result, err
	}
	return result, nil
}

// writeReceipt atomically replaces the receipt file at path.
func writeReceipt(path string, r *Receipt) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	data = append(data, '\n')

	tmp, err := osutil.TempFilePath(filepath.Dir(path), "receipt-*")
	if err != nil {
		return fmt.Errorf("create temporary receipt: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write receipt: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace receipt: %w", err)
	}
	return nil
}
