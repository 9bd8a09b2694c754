package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
)

// CleanupReport summarizes a sensitive-file sweep
type CleanupReport struct {
	Root    string
	Removed []string
	Errors  []error
}

// Cleanup removes every file under root whose base name matches the
// sensitive denylist. It is best effort: a failure on one entry is recorded
// and the sweep continues. Cleanup never panics and never returns an error;
// callers on the termination path inspect the report only for logging.
func (m *Manager) Cleanup(root string) (report CleanupReport) {
	report.Root = root
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("workspace cleanup panicked", "root", root, "panic", r)
		}
	}()

	if !m.contains(root) {
		m.logger.Warn("skipping cleanup outside base path", "root", root)
		return report
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			report.Errors = append(report.Errors, err)
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" && path != root {
				// Credential helpers can still leave files inside .git
				return m.sweepGitDir(path, &report)
			}
			return nil
		}
		if !m.isSensitive(d.Name()) {
			return nil
		}
		if rmErr := m.removeFn(path); rmErr != nil {
			report.Errors = append(report.Errors, rmErr)
			return nil
		}
		report.Removed = append(report.Removed, path)
		return nil
	})
	if walkErr != nil {
		report.Errors = append(report.Errors, walkErr)
	}

	for _, err := range report.Errors {
		m.logger.Warn("workspace cleanup error", "root", root, "error", err)
	}
	m.logger.Info("workspace cleaned",
		"root", root,
		"removed", len(report.Removed),
		"errors", len(report.Errors),
	)
	return report
}

// sweepGitDir only looks at the top of .git for leftover credential files,
// skipping the object store.
func (m *Manager) sweepGitDir(dir string, report *CleanupReport) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		report.Errors = append(report.Errors, err)
		return fs.SkipDir
	}
	for _, e := range entries {
		if e.IsDir() || !m.isSensitive(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if rmErr := m.removeFn(path); rmErr != nil {
			report.Errors = append(report.Errors, rmErr)
			continue
		}
		report.Removed = append(report.Removed, path)
	}
	return fs.SkipDir
}

func (m *Manager) isSensitive(name string) bool {
	for _, p := range m.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
