package patch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dkoval/phaserun/internal/checkpoint"
	"github.com/rs/zerolog/log"
)

// GovernanceStatus is the three-way outcome of a governed apply. Escalation
// is a first-class variant, not an error: the caller decides whether to
// retry after review.
type GovernanceStatus int

const (
	GovernanceApplied GovernanceStatus = iota
	GovernanceRejected
	GovernanceEscalation
)

// GovernanceOutcome reports what the governance layer did.
type GovernanceOutcome struct {
	Status         GovernanceStatus
	TouchedPaths   []string
	Reason         string
	EscalationPath string
	// Touched is true when the workspace was modified before the outcome
	// was decided (e.g. a mid-apply failure).
	Touched bool
}

// Governor applies a payload under an allow-list of writable path prefixes.
type Governor interface {
	Apply(ctx context.Context, workspace string, payload Payload, allowed []string, maintenance bool) GovernanceOutcome
}

// AllowListGovernor screens every named path against protected and allowed
// prefixes before writing anything. Maintenance mode (self-repair runs only)
// bypasses the allow-list but still routes protected paths to escalation.
type AllowListGovernor struct {
	git       checkpoint.Runner
	protected []string
}

// NewAllowListGovernor constructs the default governance layer.
func NewAllowListGovernor(git checkpoint.Runner, protected []string) *AllowListGovernor {
	return &AllowListGovernor{git: git, protected: protected}
}

// Apply screens paths, then applies the payload. Wrapped per-file payloads
// are written directly; unified diffs go through git apply.
func (g *AllowListGovernor) Apply(ctx context.Context, workspace string, payload Payload, allowed []string, maintenance bool) GovernanceOutcome {
	paths := payload.Paths()
	if len(paths) == 0 && strings.TrimSpace(payload.Raw) == "" {
		return GovernanceOutcome{Status: GovernanceApplied}
	}

	for _, p := range paths {
		if underAny(p, g.protected) {
			return GovernanceOutcome{
				Status:         GovernanceEscalation,
				Reason:         fmt.Sprintf("write to protected path %s requires escalated review", p),
				EscalationPath: p,
			}
		}
		// An empty allow-list leaves only the protected-path screen.
		if !maintenance && len(allowed) > 0 && !underAny(p, allowed) {
			return GovernanceOutcome{
				Status: GovernanceRejected,
				Reason: fmt.Sprintf("write outside allowed paths: %s", p),
			}
		}
	}

	if payload.Wrapped {
		return g.applyFiles(workspace, payload, paths)
	}
	return g.applyDiff(ctx, workspace, payload.Raw, paths)
}

func (g *AllowListGovernor) applyFiles(workspace string, payload Payload, paths []string) GovernanceOutcome {
	var written []string
	for _, p := range paths {
		target := filepath.Join(workspace, p)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return GovernanceOutcome{
				Status:       GovernanceRejected,
				Reason:       fmt.Sprintf("create dir for %s: %v", p, err),
				TouchedPaths: written,
				Touched:      len(written) > 0,
			}
		}
		if err := os.WriteFile(target, []byte(payload.Files[p]), 0o644); err != nil {
			return GovernanceOutcome{
				Status:       GovernanceRejected,
				Reason:       fmt.Sprintf("write %s: %v", p, err),
				TouchedPaths: written,
				Touched:      len(written) > 0,
			}
		}
		written = append(written, p)
	}
	return GovernanceOutcome{Status: GovernanceApplied, TouchedPaths: written}
}

func (g *AllowListGovernor) applyDiff(ctx context.Context, workspace, diff string, paths []string) GovernanceOutcome {
	patchFile, err := os.CreateTemp("", "phaserun-*.patch")
	if err != nil {
		return GovernanceOutcome{Status: GovernanceRejected, Reason: fmt.Sprintf("stage patch: %v", err)}
	}
	patchPath := patchFile.Name()
	defer func() { _ = os.Remove(patchPath) }()
	if _, err := patchFile.WriteString(diff); err != nil {
		_ = patchFile.Close()
		return GovernanceOutcome{Status: GovernanceRejected, Reason: fmt.Sprintf("stage patch: %v", err)}
	}
	if err := patchFile.Close(); err != nil {
		return GovernanceOutcome{Status: GovernanceRejected, Reason: fmt.Sprintf("stage patch: %v", err)}
	}

	if _, err := g.git.Run(ctx, workspace, "apply", "--whitespace=nowarn", patchPath); err != nil {
		touched := g.bestEffortRevert(ctx, workspace, patchPath)
		return GovernanceOutcome{
			Status:  GovernanceRejected,
			Reason:  fmt.Sprintf("git apply failed: %v", err),
			Touched: touched,
		}
	}
	return GovernanceOutcome{Status: GovernanceApplied, TouchedPaths: paths}
}

// bestEffortRevert reverse-applies a partially applied patch. Returns true
// if the workspace may still be dirty afterwards.
func (g *AllowListGovernor) bestEffortRevert(ctx context.Context, workspace, patchPath string) bool {
	out, err := g.git.Run(ctx, workspace, "diff", "--name-only")
	if err != nil || strings.TrimSpace(out) == "" {
		return err != nil
	}
	if _, err := g.git.Run(ctx, workspace, "apply", "-R", patchPath); err != nil {
		log.Warn().Err(err).Msg("could not reverse partially applied patch")
		return true
	}
	return false
}

func underAny(path string, prefixes []string) bool {
	clean := filepath.ToSlash(filepath.Clean(path))
	for _, prefix := range prefixes {
		p := filepath.ToSlash(filepath.Clean(prefix))
		if p == "." || p == "" {
			return true
		}
		if clean == p || strings.HasPrefix(clean, p+"/") {
			return true
		}
	}
	return false
}
