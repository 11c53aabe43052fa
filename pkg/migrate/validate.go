package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir validates the migrations in an on-disk directory.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return Validate(os.DirFS(dir))
}

// Validate checks filenames, version uniqueness and goose annotations for
// every .sql file at the root of fsys.
func Validate(fsys fs.FS) error {
	files, err := sqlFiles(fsys)
	if err != nil {
		return err
	}
	seen := map[int64]string{}
	for _, name := range files {
		version, err := fileVersion(name)
		if err != nil {
			return err
		}
		if prev, ok := seen[version]; ok {
			return fmt.Errorf("duplicate migration version %d in %q and %q", version, prev, name)
		}
		seen[version] = name

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkAnnotations(name, string(b)); err != nil {
			return err
		}
	}
	return nil
}

func checkAnnotations(name, txt string) error {
	up := strings.Index(txt, "-- +goose Up")
	down := strings.Index(txt, "-- +goose Down")
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
	case down < 0:
		return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
	case down < up:
		return fmt.Errorf("migration %q declares Down before Up", name)
	}
	if strings.Count(txt, "-- +goose StatementBegin") != strings.Count(txt, "-- +goose StatementEnd") {
		return fmt.Errorf("migration %q has unbalanced statement blocks", name)
	}
	return nil
}

// sqlFiles lists root-level .sql names in lexical (and so version) order.
func sqlFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func fileVersion(name string) (int64, error) {
	m := sqlFileRe.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
	}
	return strconv.ParseInt(m[1], 10, 64)
}

// latestVersion is the highest version in fsys, or 0 when it holds none.
func latestVersion(fsys fs.FS) (int64, error) {
	files, err := sqlFiles(fsys)
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, name := range files {
		v, err := fileVersion(name)
		if err != nil {
			return 0, err
		}
		latest = max(latest, v)
	}
	return latest, nil
}
