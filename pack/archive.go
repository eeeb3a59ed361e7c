package pack

import (
	"archive/tar"
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// archiveEntry is one file destined for an archive, with the path it carries
// inside the archive already resolved.
type archiveEntry struct {
	path string
	name string
	mode os.FileMode
	size int64
}

// collectEntries walks the staging directory and returns its regular files
// sorted by archive name, so that identical inputs always produce the same
// content listing. Entries are rooted under baseName, which is the directory
// end users see when they extract.
func collectEntries(rootPath, baseName string) ([]archiveEntry, error) {
	entries := []archiveEntry{}

	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return errors.Wrapf(err, "problem relativizing '%s'", path)
		}

		entries = append(entries, archiveEntry{
			path: path,
			name: baseName + "/" + strings.Replace(rel, "\\", "/", -1),
			mode: info.Mode(),
			size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "problem walking '%s'", rootPath)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	return entries, nil
}

// writeTarXz archives the staging directory as <archivePath>, a tar stream
// wrapped in an xz stream wrapped in the file. Header timestamps are zeroed
// so repeated runs over identical inputs produce identical listings.
func writeTarXz(ctx context.Context, archivePath, stagingDir, baseName string) error {
	entries, err := collectEntries(stagingDir, baseName)
	if err != nil {
		return err
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return errors.Wrapf(err, "problem creating '%s'", archivePath)
	}

	xzWriter, err := xz.NewWriter(f)
	if err != nil {
		grip.Debug(f.Close())
		return errors.Wrap(err, "problem creating xz stream")
	}
	tarWriter := tar.NewWriter(xzWriter)

	for _, entry := range entries {
		if ctx.Err() != nil {
			grip.Debug(tarWriter.Close())
			grip.Debug(xzWriter.Close())
			grip.Debug(f.Close())
			return errors.New("archive creation operation canceled")
		}

		hdr := &tar.Header{
			Name: entry.name,
			Mode: int64(entry.mode),
			Size: entry.size,
		}
		if err := tarWriter.WriteHeader(hdr); err != nil {
			grip.Debug(f.Close())
			return errors.Wrapf(err, "problem writing header for '%s'", entry.name)
		}
		if err := copyIntoArchive(tarWriter, entry); err != nil {
			grip.Debug(f.Close())
			return err
		}
	}

	catcher := grip.NewBasicCatcher()
	catcher.Wrap(tarWriter.Close(), "problem closing tar stream")
	catcher.Wrap(xzWriter.Close(), "problem closing xz stream")
	catcher.Wrap(f.Close(), "problem closing archive file")
	return catcher.Resolve()
}

// writeZip archives the staging directory as <archivePath> with the same
// deterministic listing rules as writeTarXz.
func writeZip(ctx context.Context, archivePath, stagingDir, baseName string) error {
	entries, err := collectEntries(stagingDir, baseName)
	if err != nil {
		return err
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return errors.Wrapf(err, "problem creating '%s'", archivePath)
	}
	zipWriter := zip.NewWriter(f)

	for _, entry := range entries {
		if ctx.Err() != nil {
			grip.Debug(zipWriter.Close())
			grip.Debug(f.Close())
			return errors.New("archive creation operation canceled")
		}

		hdr := &zip.FileHeader{
			Name:   entry.name,
			Method: zip.Deflate,
		}
		hdr.SetMode(entry.mode)

		w, err := zipWriter.CreateHeader(hdr)
		if err != nil {
			grip.Debug(f.Close())
			return errors.Wrapf(err, "problem writing header for '%s'", entry.name)
		}
		if err := copyEntry(w, entry); err != nil {
			grip.Debug(f.Close())
			return err
		}
	}

	catcher := grip.NewBasicCatcher()
	catcher.Wrap(zipWriter.Close(), "problem closing zip stream")
	catcher.Wrap(f.Close(), "problem closing archive file")
	return catcher.Resolve()
}

func copyIntoArchive(tarWriter *tar.Writer, entry archiveEntry) error {
	if err := copyEntry(tarWriter, entry); err != nil {
		return err
	}
	return errors.Wrapf(tarWriter.Flush(), "problem flushing '%s'", entry.name)
}

func copyEntry(w io.Writer, entry archiveEntry) error {
	in, err := os.Open(entry.path)
	if err != nil {
		return errors.Wrapf(err, "problem opening '%s'", entry.path)
	}

	wrote, err := io.Copy(w, in)
	grip.Debug(in.Close())
	if err != nil {
		return errors.Wrapf(err, "problem writing '%s' into archive", entry.name)
	}
	if wrote != entry.size {
		return errors.Errorf("wrote %d bytes of '%s', expected %d", wrote, entry.name, entry.size)
	}
	return nil
}
