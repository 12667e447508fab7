package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/errdefs"

	"github.com/qaforge/qasandbox/internal/sberr"
)

// Upload copies a local file or directory into the sandbox at remotePath.
func (m *Manager) Upload(ctx context.Context, id, localPath, remotePath string) error {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	archive, err := tarPath(localPath, filepath.Base(remotePath))
	if err != nil {
		return err
	}

	remoteDir := filepath.Dir(remotePath)
	if _, err := m.Exec(ctx, rec.ID, "mkdir -p "+shellQuote(remoteDir), 0); err != nil {
		return fmt.Errorf("prepare %s in %s: %w", remoteDir, rec.ShortID, err)
	}

	if err := m.cli.CopyToContainer(ctx, rec.ID, remoteDir, archive, container.CopyToContainerOptions{}); err != nil {
		return copyErr("upload to", rec.ShortID, err)
	}
	return nil
}

// Download copies a file or directory out of the sandbox to localPath.
func (m *Manager) Download(ctx context.Context, id, remotePath, localPath string) error {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	reader, stat, err := m.cli.CopyFromContainer(ctx, rec.ID, remotePath)
	if err != nil {
		return copyErr("download from", rec.ShortID, err)
	}
	defer reader.Close()

	if stat.Mode.IsDir() {
		return untarDir(reader, localPath)
	}
	return untarFile(reader, localPath)
}

func copyErr(verb, shortID string, err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%s sandbox %s: %v: %w", verb, shortID, err, sberr.ErrNotFound)
	case errdefs.IsForbidden(err) || os.IsPermission(err):
		return fmt.Errorf("%s sandbox %s: %v: %w", verb, shortID, err, sberr.ErrPermissionDenied)
	default:
		return fmt.Errorf("%s sandbox %s: %w", verb, shortID, err)
	}
}

// tarPath archives a file or directory tree into an in-memory tar stream,
// rooted at the given entry name.
func tarPath(localPath, rootName string) (io.Reader, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("source %s: %w", localPath, sberr.ErrNotFound)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("source %s: %w", localPath, sberr.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("source %s: %w", localPath, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if !info.IsDir() {
		if err := tarFile(tw, localPath, rootName, info); err != nil {
			return nil, err
		}
	} else {
		err := filepath.Walk(localPath, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				if os.IsPermission(err) {
					return fmt.Errorf("source %s: %w", path, sberr.ErrPermissionDenied)
				}
				return err
			}
			rel, err := filepath.Rel(localPath, path)
			if err != nil {
				return err
			}
			name := rootName
			if rel != "." {
				name = filepath.Join(rootName, rel)
			}
			if fi.IsDir() {
				hdr := &tar.Header{Name: name + "/", Mode: int64(fi.Mode().Perm()), Typeflag: tar.TypeDir}
				return tw.WriteHeader(hdr)
			}
			return tarFile(tw, path, name, fi)
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return &buf, nil
}

func tarFile(tw *tar.Writer, path, name string, info os.FileInfo) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("source %s: %w", path, sberr.ErrPermissionDenied)
		}
		return fmt.Errorf("source %s: %w", path, err)
	}
	defer f.Close()

	hdr := &tar.Header{
		Name: name,
		Mode: int64(info.Mode().Perm()),
		Size: info.Size(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// untarFile extracts the single file entry of a tar stream to localPath.
func untarFile(r io.Reader, localPath string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("empty archive: %w", sberr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		return writeLocal(localPath, tr, hdr.FileInfo().Mode())
	}
}

// untarDir extracts a directory tree. Docker roots the archive at the
// copied directory's own name; that root maps onto localPath itself.
func untarDir(r io.Reader, localPath string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		parts := strings.SplitN(filepath.Clean(hdr.Name), string(filepath.Separator), 2)
		target := localPath
		if len(parts) == 2 {
			target = filepath.Join(localPath, parts[1])
		}
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(localPath)) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, localPath)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()); err != nil {
				return permWrap(target, err)
			}
		case tar.TypeReg:
			if err := writeLocal(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		}
	}
}

func writeLocal(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return permWrap(path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return permWrap(path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func permWrap(path string, err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("destination %s: %w", path, sberr.ErrPermissionDenied)
	}
	return fmt.Errorf("destination %s: %w", path, err)
}
