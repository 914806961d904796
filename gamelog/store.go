// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package gamelog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"
)

// filenameSanitizer strips anything that should not appear in a file
// name derived from a game name or session id.
var filenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// WriteResult describes one persisted gamelog.
type WriteResult struct {
	// Filename is the bare file name within the store directory.
	Filename string

	// Checksum is the BLAKE3 hex digest of the uncompressed JSON
	// transcript, recorded so transcripts can be audited after
	// transfer or archival.
	Checksum string
}

// Store persists gamelogs as gzip-compressed JSON files and formats the
// public URLs clients receive in the over event.
type Store struct {
	dir           string
	gamelogBase   string
	visualizerURL string
	logger        *slog.Logger
}

// NewStore creates the store directory if needed. gamelogBase is the
// public URL prefix for raw gamelog downloads; visualizerURL is the
// replay viewer prefix. Either may be empty, in which case the
// corresponding URL formats as just the filename.
func NewStore(dir, gamelogBase, visualizerURL string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating gamelog directory: %w", err)
	}
	return &Store{
		dir:           dir,
		gamelogBase:   gamelogBase,
		visualizerURL: visualizerURL,
		logger:        logger,
	}, nil
}

// Filename returns the deterministic file name for a gamelog:
// <game>-<session>-<epoch>.json.gz. Deterministic so the session can
// tell clients the gamelog URL before the transcript has been written.
func Filename(g *Gamelog) string {
	sanitize := func(s string) string {
		return filenameSanitizer.ReplaceAllString(s, "_")
	}
	return fmt.Sprintf("%s-%s-%d.json.gz", sanitize(g.GameName), sanitize(g.SessionID), g.Epoch)
}

// Write persists the gamelog and returns its filename and content
// checksum.
func (s *Store) Write(g *Gamelog) (WriteResult, error) {
	encoded, err := json.Marshal(g)
	if err != nil {
		return WriteResult{}, fmt.Errorf("encoding gamelog: %w", err)
	}

	digest := blake3.Sum256(encoded)
	filename := Filename(g)
	path := filepath.Join(s.dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return WriteResult{}, fmt.Errorf("creating gamelog file: %w", err)
	}

	writer := gzip.NewWriter(file)
	if _, err := writer.Write(encoded); err != nil {
		file.Close()
		return WriteResult{}, fmt.Errorf("writing gamelog: %w", err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return WriteResult{}, fmt.Errorf("flushing gamelog: %w", err)
	}
	if err := file.Close(); err != nil {
		return WriteResult{}, fmt.Errorf("closing gamelog file: %w", err)
	}

	result := WriteResult{Filename: filename, Checksum: hex.EncodeToString(digest[:])}
	s.logger.Info("gamelog written", "filename", filename, "bytes", len(encoded), "checksum", result.Checksum)
	return result, nil
}

// Read loads a previously written gamelog by filename.
func (s *Store) Read(filename string) (*Gamelog, error) {
	file, err := os.Open(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("opening gamelog: %w", err)
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("decompressing gamelog: %w", err)
	}
	defer reader.Close()

	var g Gamelog
	if err := json.NewDecoder(reader).Decode(&g); err != nil {
		return nil, fmt.Errorf("decoding gamelog: %w", err)
	}
	return &g, nil
}

// GamelogBase returns the configured gamelog URL prefix. Forked rooms
// pass it to the worker so both sides format identical URLs.
func (s *Store) GamelogBase() string { return s.gamelogBase }

// VisualizerBase returns the configured replay viewer URL prefix.
func (s *Store) VisualizerBase() string { return s.visualizerURL }

// GamelogURL formats the public download URL for a gamelog filename.
func (s *Store) GamelogURL(filename string) string {
	return URLs{GamelogBase: s.gamelogBase, VisualizerBase: s.visualizerURL}.GamelogURL(filename)
}

// VisualizerURL formats the replay viewer URL for a gamelog filename.
func (s *Store) VisualizerURL(filename string) string {
	return URLs{GamelogBase: s.gamelogBase, VisualizerBase: s.visualizerURL}.VisualizerURL(filename)
}

// URLs formats public gamelog URLs without a backing store. Workers
// use it: they report URLs to clients but never persist transcripts
// themselves.
type URLs struct {
	GamelogBase    string
	VisualizerBase string
}

// GamelogURL formats the public download URL for a gamelog filename.
// With no base configured the bare filename is returned.
func (u URLs) GamelogURL(filename string) string {
	if u.GamelogBase == "" {
		return filename
	}
	return strings.TrimSuffix(u.GamelogBase, "/") + "/" + filename
}

// VisualizerURL formats the replay viewer URL for a gamelog filename,
// or "" when no viewer is configured.
func (u URLs) VisualizerURL(filename string) string {
	if u.VisualizerBase == "" {
		return ""
	}
	return u.VisualizerBase + "?log=" + u.GamelogURL(filename)
}
