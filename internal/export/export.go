// Package export writes reconstructed session data to disk for offline
// analysis. Exports land in a single configured directory; filenames are
// derived from sanitized session IDs and every resolved path is validated
// against traversal before anything is written.
package export

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/retinalab/gazecap/internal/fsutil"
	"github.com/retinalab/gazecap/internal/gaze"
	"github.com/retinalab/gazecap/internal/security"
)

// ChunkLoader resolves a chunk ID to its binary payload. The chunk store's
// Data method satisfies this.
type ChunkLoader func(chunkID string) ([]byte, error)

// Exporter writes session reconstructions under a base directory.
type Exporter struct {
	fs  fsutil.FileSystem
	dir string
}

// NewExporter returns an Exporter rooted at dir. A nil fs uses the real
// filesystem.
func NewExporter(dir string, fs fsutil.FileSystem) *Exporter {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Exporter{fs: fs, dir: filepath.Clean(dir)}
}

// Dir returns the export base directory.
func (e *Exporter) Dir() string { return e.dir }

// sessionFilename builds the on-disk name for a session export.
func sessionFilename(sessionID string) string {
	return security.SanitizeFilename("session_"+sessionID) + ".json"
}

// safePath joins name onto the base directory and rejects anything that
// resolves outside it.
func (e *Exporter) safePath(name string) (string, error) {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == "" {
		return "", fmt.Errorf("invalid export filename %q", name)
	}
	path := filepath.Join(e.dir, base)
	if err := security.ValidatePathWithinDirectory(path, e.dir); err != nil {
		return "", fmt.Errorf("invalid export path: %w", err)
	}
	return path, nil
}

// WriteSession writes one session reconstruction as indented JSON and returns
// the path written.
func (e *Exporter) WriteSession(data *gaze.SessionData) (string, error) {
	if data == nil || data.Session == nil {
		return "", fmt.Errorf("nothing to export")
	}
	if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	path, err := e.safePath(sessionFilename(data.Session.SessionID))
	if err != nil {
		return "", err
	}

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode session data: %w", err)
	}
	if err := e.fs.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write session export: %w", err)
	}
	return path, nil
}

// WriteVideo concatenates the session's chunks, in index order, into a single
// media file next to the JSON export. Chunks are loaded one at a time so large
// recordings never sit fully in memory. Sessions without chunks produce no
// file and return ("", nil).
func (e *Exporter) WriteVideo(data *gaze.SessionData, load ChunkLoader) (string, error) {
	if data == nil || data.Session == nil {
		return "", fmt.Errorf("nothing to export")
	}
	if len(data.VideoChunks) == 0 {
		return "", nil
	}
	if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	name := security.SanitizeFilename("session_"+data.Session.SessionID) + ".webm"
	path, err := e.safePath(name)
	if err != nil {
		return "", err
	}

	f, err := e.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create video export: %w", err)
	}
	for _, chunk := range data.VideoChunks {
		payload, err := load(chunk.ChunkID)
		if err != nil {
			f.Close()
			e.fs.Remove(path)
			return "", fmt.Errorf("load chunk %d: %w", chunk.Index, err)
		}
		if payload == nil {
			f.Close()
			e.fs.Remove(path)
			return "", fmt.Errorf("chunk %d has no payload", chunk.Index)
		}
		if _, err := f.Write(payload); err != nil {
			f.Close()
			e.fs.Remove(path)
			return "", fmt.Errorf("write chunk %d: %w", chunk.Index, err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close video export: %w", err)
	}
	return path, nil
}
