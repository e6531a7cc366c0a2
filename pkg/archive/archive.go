// Package archive bundles a mirror destination directory into a single
// gzipped tar container and extracts such containers back into a
// directory.
//
// The container layout is flat: every regular file of the source
// directory appears at the archive root under its own name. Nested
// directories are not produced by the downloader and are skipped.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/packmule/packmule/pkg/errors"
)

// Create writes every regular file of srcDir into a gzipped tar at
// dstFile. Returns the number of files bundled.
func Create(dstFile, srcDir string) (int, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.ErrCodeFileNotFound, err, "read %s", srcDir)
	}

	out, err := os.Create(dstFile)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "create %s", dstFile)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	count := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := addFile(tw, filepath.Join(srcDir, entry.Name()), entry.Name()); err != nil {
			return count, err
		}
		count++
	}

	if err := tw.Close(); err != nil {
		return count, pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "finalize archive %s", dstFile)
	}
	if err := gz.Close(); err != nil {
		return count, pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "finalize archive %s", dstFile)
	}
	return count, nil
}

func addFile(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrCodeFileNotFound, err, "stat %s", path)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "write header %s", name)
	}

	f, err := os.Open(path)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrCodeFileNotFound, err, "open %s", path)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "write %s", name)
	}
	return nil
}

// Extract unpacks the gzipped tar at srcFile into dstDir, creating it
// if needed. Entries that would escape dstDir are rejected. Returns the
// number of files written.
func Extract(srcFile, dstDir string) (int, error) {
	in, err := os.Open(srcFile)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.ErrCodeFileNotFound, err, "open %s", srcFile)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidArchive, err, "%s is not a gzip archive", srcFile)
	}
	defer gz.Close()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "create %s", dstDir)
	}

	tr := tar.NewReader(gz)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidArchive, err, "read archive %s", srcFile)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		path, err := safeJoin(dstDir, hdr.Name)
		if err != nil {
			return count, err
		}
		if err := writeFile(path, tr, hdr.FileInfo().Mode()); err != nil {
			return count, err
		}
		count++
	}
}

// safeJoin resolves an archive entry name inside dir, rejecting
// traversal outside it.
func safeJoin(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if !strings.HasPrefix(path, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", pkgerrors.New(pkgerrors.ErrCodeInvalidArchive, "entry %q escapes the destination", name)
	}
	return path, nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "create %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "create %s", path)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return pkgerrors.Wrap(pkgerrors.ErrCodeIOWrite, err, "write %s", path)
	}
	return f.Close()
}
