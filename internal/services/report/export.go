package report

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/services/render"
)

// Export is one generated file.
type Export struct {
	Name string
	Data []byte
}

// Exports builds the files written and mailed for a report: the CSV table
// and one unmapped-key list per category.
func Exports(r domain.Report) []Export {
	prefix := r.GeneratedAt.Format(domain.DateLayout) + "_OSPool_" + render.Label(r.Days)
	return []Export{
		{Name: prefix + "_Summary.csv", Data: render.CSV(r)},
		{Name: prefix + "_unmapped_" + domain.UnmappedResources + ".txt", Data: render.Unmapped(r.Unmapped[domain.UnmappedResources])},
		{Name: prefix + "_unmapped_" + domain.UnmappedProjects + ".txt", Data: render.Unmapped(r.Unmapped[domain.UnmappedProjects])},
	}
}

// WriteExports writes files into dir. Each file is replaced atomically, so
// readers see either the previous or the new content.
func WriteExports(dir string, files []Export) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("create output dir: %w", err)
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		p := filepath.Join(dir, f.Name)
		if err := atomic.WriteFile(p, bytes.NewReader(f.Data)); err != nil {
			return paths, xerrors.Errorf("write %s: %w", f.Name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
