package lifecycle

import (
	"context"
	"os"
	"path/filepath"

	"github.com/devicelab-dev/quern/internal/core"
)

// ensureCloned clones the upstream WDA sources if not already present,
// idempotent on the repo marker (a ".git" directory inside the
// destination), per §4.1 step 3. Returns true if a fresh clone happened.
func (m *Manager) ensureCloned(ctx context.Context) (bool, error) {
	if m.repoCloned() {
		m.log.Debug("WDA sources already cloned", "path", m.dirs.WDASourceDir)
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(m.dirs.WDASourceDir), 0o755); err != nil {
		return false, core.ErrCloneFailed.WithCause(err)
	}

	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	m.log.Info("cloning WebDriverAgent", "url", m.repoURL, "dest", m.dirs.WDASourceDir)
	_, stderr, err := m.proc.Run(cloneCtx, "git", "clone", "--depth", "1", m.repoURL, m.dirs.WDASourceDir)
	if err != nil {
		if cloneCtx.Err() != nil {
			return false, core.ErrCloneFailed.WithTool("git").WithMessage("git clone timed out after 60s").WithCause(err)
		}
		return false, core.ErrCloneFailed.WithTool("git").WithDetails(map[string]interface{}{"stderr": string(stderr)}).WithCause(err)
	}
	return true, nil
}

func (m *Manager) repoCloned() bool {
	info, err := os.Stat(filepath.Join(m.dirs.WDASourceDir, ".git"))
	return err == nil && info != nil
}
