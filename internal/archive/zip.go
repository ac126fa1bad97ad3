// Package archive unpacks GitLab source archives.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// TopLevel returns the single top-level entry name of the zip archive at
// zipPath. Archives with no entries or several top-level entries are
// rejected.
func TopLevel(zipPath string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	return topLevel(r.File)
}

func topLevel(files []*zip.File) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("archive is empty")
	}

	var top string
	for _, f := range files {
		name := strings.TrimPrefix(path.Clean("/"+f.Name), "/")
		first, _, _ := strings.Cut(name, "/")
		if first == "" {
			continue
		}
		if top == "" {
			top = first
			continue
		}
		if first != top {
			return "", fmt.Errorf("archive has more than one top-level entry: %q and %q", top, first)
		}
	}
	if top == "" {
		return "", fmt.Errorf("archive has no named entries")
	}
	return top, nil
}

// ExtractAs unpacks the zip archive at zipPath so that the contents of its
// single top-level directory end up in dest, whatever that directory was
// called. dest must not exist yet.
func ExtractAs(zipPath, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	top, err := topLevel(r.File)
	if err != nil {
		return err
	}

	if err := os.Mkdir(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	for _, f := range r.File {
		rel := strings.TrimPrefix(path.Clean("/"+f.Name), "/")
		rel = strings.TrimPrefix(strings.TrimPrefix(rel, top), "/")
		if rel == "" {
			continue
		}

		target := filepath.Join(dest, filepath.FromSlash(rel))
		if !within(dest, target) {
			return fmt.Errorf("entry %q escapes the extraction directory", f.Name)
		}
		if err := checkParents(dest, target); err != nil {
			return fmt.Errorf("entry %q: %w", f.Name, err)
		}

		if err := extractFile(f, dest, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}

	return nil
}

// within reports whether target lies strictly below dir.
func within(dir, target string) bool {
	return strings.HasPrefix(filepath.Clean(target), filepath.Clean(dir)+string(os.PathSeparator))
}

// checkParents rejects target when an existing component between dest and
// target is a symlink, so writes never follow a link planted earlier in the
// archive.
func checkParents(dest, target string) error {
	rel, err := filepath.Rel(filepath.Clean(dest), filepath.Dir(target))
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}

	cur := filepath.Clean(dest)
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("parent %s is a symlink", cur)
		}
	}
	return nil
}

func extractFile(f *zip.File, dest, target string) error {
	mode := f.Mode()

	if mode.IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	if mode&os.ModeSymlink != 0 {
		link, err := io.ReadAll(io.LimitReader(rc, 4096))
		if err != nil {
			return err
		}
		if filepath.IsAbs(string(link)) || !within(dest, filepath.Join(filepath.Dir(target), string(link))) {
			return fmt.Errorf("symlink target %q escapes the extraction directory", link)
		}
		return os.Symlink(string(link), target)
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
