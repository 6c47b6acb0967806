package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// DefaultDir is the migrations root inside the embedded schema filesystem.
const DefaultDir = "migrations"

// Runner applies the .sql files under <Dir>/<dialect> in lexical order. Every
// file must be idempotent; there is no applied-version bookkeeping.
type Runner struct {
	FS  fs.FS
	Dir string
}

func NewRunner(files fs.FS) *Runner {
	return &Runner{FS: files, Dir: DefaultDir}
}

func (r *Runner) Files(dialect string) ([]string, error) {
	if dialect == "" {
		return nil, fmt.Errorf("empty dialect")
	}
	base := path.Join(r.Dir, dialect)
	entries, err := fs.ReadDir(r.FS, base)
	if err != nil {
		return nil, fmt.Errorf("read migrations for %s: %w", dialect, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, path.Join(base, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations for dialect %s", dialect)
	}
	return files, nil
}

func (r *Runner) Apply(ctx context.Context, db *sql.DB, dialect string) error {
	if db == nil {
		return fmt.Errorf("nil db")
	}
	files, err := r.Files(dialect)
	if err != nil {
		return err
	}
	for _, p := range files {
		sqlBytes, err := fs.ReadFile(r.FS, p)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply %s: %w", p, err)
		}
	}
	return nil
}
