package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// Dir is a Store rooted at a directory of the local filesystem. Store paths
// never resolve outside the root.
type Dir struct {
	root string
}

// NewDir creates the root when missing. A leading ~ is expanded.
func NewDir(root string) (*Dir, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return nil, fmt.Errorf("filestore: expand root %q: %w", root, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root %q: %w", abs, err)
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) Root() string { return d.root }

func (d *Dir) resolve(name string) (string, error) {
	p, err := Clean(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.root, filepath.FromSlash(p)), nil
}

func (d *Dir) Exists(name string) (bool, error) {
	p, err := d.resolve(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, mapErr(err)
}

func (d *Dir) ReadFile(name string) ([]byte, error) {
	p, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	return data, mapErr(err)
}

func (d *Dir) WriteFile(name string, data []byte) error {
	p, err := d.resolve(name)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return mapErr(err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (d *Dir) DeleteFile(name string) error {
	p, err := d.resolve(name)
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if err != nil {
		return mapErr(err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotAllowed, name)
	}
	return mapErr(os.Remove(p))
}

func (d *Dir) RenameFile(from, to string) error {
	src, err := d.resolve(from)
	if err != nil {
		return err
	}
	dst, err := d.resolve(to)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, to)
	}
	return mapErr(os.Rename(src, dst))
}

func (d *Dir) AppendFile(dst, src string) error {
	dp, err := d.resolve(dst)
	if err != nil {
		return err
	}
	sp, err := d.resolve(src)
	if err != nil {
		return err
	}
	in, err := os.Open(sp)
	if err != nil {
		return mapErr(err)
	}
	defer in.Close()
	out, err := os.OpenFile(dp, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return mapErr(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (d *Dir) CreateDirectory(name string) error {
	p, err := d.resolve(name)
	if err != nil {
		return err
	}
	return mapErr(os.MkdirAll(p, 0o755))
}

func (d *Dir) RemoveDirectory(name string) error {
	p, err := d.resolve(name)
	if err != nil {
		return err
	}
	if p == d.root {
		return fmt.Errorf("%w: cannot remove root", ErrNotAllowed)
	}
	info, err := os.Stat(p)
	if err != nil {
		return mapErr(err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotAllowed, name)
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAllowed, err)
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotExist, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", ErrExists, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrNotAllowed, err)
	default:
		return err
	}
}
