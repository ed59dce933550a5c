// Package backup archives the transition history database, and optionally
// the config file, as tar.gz, and restores such archives.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrExists is returned by Restore when a target file exists and force is
// not set.
var ErrExists = errors.New("backup: file exists")

// maxEntrySize caps a single restored file.
const maxEntrySize = 1 << 30

// Backup writes a tar.gz archive holding dbPath and, when it exists,
// configPath. The WAL is checkpointed first so the copied file is complete.
func Backup(ctx context.Context, dbPath, configPath, outputPath string) (err error) {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %w", err)
	}
	if err := checkpointWAL(ctx, dbPath); err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)
	defer func() {
		for _, c := range []io.Closer{tw, gw, outFile} {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("finishing archive: %w", cerr)
			}
		}
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	if err := addFileToTar(tw, dbPath, filepath.Base(dbPath)); err != nil {
		return fmt.Errorf("adding database to archive: %w", err)
	}
	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr == nil {
			if err := addFileToTar(tw, configPath, filepath.Base(configPath)); err != nil {
				return fmt.Errorf("adding config to archive: %w", err)
			}
		}
	}
	return nil
}

// Restore extracts archivePath into dataDir. Entries must be plain files at
// the archive root.
func Restore(ctx context.Context, archivePath, dataDir string, force bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading gzip: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	tr := tar.NewReader(gr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := hdr.Name
		if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("refusing archive entry %q", hdr.Name)
		}
		if hdr.Size > maxEntrySize {
			return fmt.Errorf("archive entry %q too large: %d bytes", name, hdr.Size)
		}
		if err := extractFile(tr, filepath.Join(dataDir, name), force); err != nil {
			return fmt.Errorf("restoring %q: %w", name, err)
		}
	}
}

func extractFile(r io.Reader, dest string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(dest, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s (use -force to overwrite)", ErrExists, dest)
		}
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(r, maxEntrySize)); err != nil {
		out.Close()
		return err
	}
	// Stale WAL/SHM files would replay over the restored database.
	if strings.HasSuffix(dest, ".db") {
		os.Remove(dest + "-wal")
		os.Remove(dest + "-shm")
	}
	return out.Close()
}

func checkpointWAL(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
