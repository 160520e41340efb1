package patch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkoval/phaserun/internal/model"
)

// EditEngine applies one file-scoped operation of a structured edit plan.
type EditEngine interface {
	Apply(ctx context.Context, workspace string, op model.EditOp) error
}

// FSEngine applies edit operations directly to the workspace filesystem.
type FSEngine struct{}

// Apply performs a single create/replace/delete operation.
func (FSEngine) Apply(_ context.Context, workspace string, op model.EditOp) error {
	target := filepath.Join(workspace, op.Path)
	switch op.Action {
	case model.EditCreate, model.EditReplace:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", op.Path, err)
		}
		if op.Action == model.EditCreate {
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("create %s: file already exists", op.Path)
			}
		}
		if err := os.WriteFile(target, []byte(op.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", op.Path, err)
		}
	case model.EditDelete:
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("delete %s: %w", op.Path, err)
		}
	default:
		return fmt.Errorf("unknown edit action %q for %s", op.Action, op.Path)
	}
	return nil
}
