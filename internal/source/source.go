// Package source acquires raw provider feeds: a directory of JSON files, a
// local CSV file or a remote CSV fetched over HTTP.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"catalogsync/config"
	"catalogsync/internal/adapter"
)

// ErrFormatMismatch marks a source that answered with the wrong kind of
// document, such as an HTML login page instead of CSV.
var ErrFormatMismatch = errors.New("source format mismatch")

// FormatError describes a format mismatch. It matches ErrFormatMismatch
// with errors.Is.
type FormatError struct {
	Source      string
	ContentType string
	Reason      string
}

func (e *FormatError) Error() string {
	if e.ContentType != "" {
		return fmt.Sprintf("source %s: %s (content-type %q)", e.Source, e.Reason, e.ContentType)
	}
	return fmt.Sprintf("source %s: %s", e.Source, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return ErrFormatMismatch
}

// Source loads every raw building of one feed. A non-nil error means the
// feed could not be read at all.
type Source interface {
	Load(ctx context.Context) ([]adapter.RawBuilding, error)
	String() string
}

// Resolve picks the Source for location: "@<url>" is a remote CSV, a path ending
// in .csv is a local CSV and anything else is a directory of JSON files.
func Resolve(location string, cfg *config.Config, logger *logrus.Logger) (Source, error) {
	location = strings.TrimSpace(location)
	switch {
	case location == "":
		return nil, fmt.Errorf("empty source")
	case strings.HasPrefix(location, "@"):
		return NewRemote(strings.TrimPrefix(location, "@"), cfg.Source.FetchTimeout, cfg.Source.FetchRetries, logger)
	case strings.EqualFold(filepath.Ext(location), ".csv"):
		return &CSVFile{Path: location}, nil
	default:
		return &Dir{Path: location, logger: logger}, nil
	}
}

// Dir is a directory of *.json files, each holding one or more buildings.
type Dir struct {
	Path   string
	logger *logrus.Logger
}

func (d *Dir) String() string { return d.Path }

// Load reads the files in name order. A malformed file is skipped with a
// warning; the load fails only if the directory is unreadable or every
// file is malformed.
func (d *Dir) Load(ctx context.Context) ([]adapter.RawBuilding, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			files = append(files, filepath.Join(d.Path, e.Name()))
		}
	}
	sort.Strings(files)

	var buildings []adapter.RawBuilding
	var failed []error
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(file)
		if err == nil {
			var batch []adapter.RawBuilding
			batch, err = adapter.DecodeFeed(data)
			buildings = append(buildings, batch...)
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", filepath.Base(file), err))
			if d.logger != nil {
				d.logger.WithError(err).WithField("file", file).Warn("Skipping unreadable feed file")
			}
		}
	}

	if len(files) > 0 && len(failed) == len(files) {
		return nil, fmt.Errorf("no readable feed files in %s: %w", d.Path, errors.Join(failed...))
	}
	return buildings, nil
}

// CSVFile is a local CSV feed.
type CSVFile struct {
	Path string
}

func (f *CSVFile) String() string { return f.Path }

func (f *CSVFile) Load(ctx context.Context) ([]adapter.RawBuilding, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed file: %w", err)
	}
	if looksLikeHTML(data) {
		return nil, &FormatError{Source: f.Path, Reason: "file contains HTML"}
	}
	return ParseCSV(data)
}
