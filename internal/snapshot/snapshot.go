// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package snapshot writes the latest poll result as a JSON file for web pages
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Thermoquad/heatpumpmon/internal/config"
	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

// TimeLayout is the format of the "time" entry, e.g. "14:05 01.03.24"
const TimeLayout = "15:04 02.01.06"

// Writer replaces the snapshot file on every Write
type Writer struct {
	path   string
	fields []config.SnapshotField
	now    func() time.Time
}

// NewWriter creates a writer for path. An empty field list writes every value.
func NewWriter(path string, fields []config.SnapshotField) *Writer {
	return &Writer{path: path, fields: fields, now: time.Now}
}

// Build returns the document Write would store for result
func (w *Writer) Build(result lwz.Result) map[string]interface{} {
	doc := make(map[string]interface{}, len(result)+1)
	if len(w.fields) == 0 {
		for k, v := range result {
			doc[k] = v
		}
	} else {
		for _, f := range w.fields {
			v, ok := result[f.Name]
			switch {
			case !ok:
				doc[f.Name] = nil
			case f.Unit != "":
				doc[f.Name] = lwz.FormatValue(v) + f.Unit
			default:
				doc[f.Name] = v
			}
		}
	}
	doc["time"] = w.now().Format(TimeLayout)
	return doc
}

// Write stores result atomically: readers never see a partial file
func (w *Writer) Write(result lwz.Result) error {
	data, err := json.Marshal(w.Build(result))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Path returns the snapshot file location
func (w *Writer) Path() string {
	return w.path
}
