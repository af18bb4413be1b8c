// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FormatHex renders bytes in groups of four with their offsets,
// e.g. "| 0: 01 00 fd 10 | 4: 03 |"
func FormatHex(b []byte) string {
	if len(b) == 0 {
		return "| |"
	}
	var s strings.Builder
	for i, c := range b {
		if i%4 == 0 {
			fmt.Fprintf(&s, "| %d: ", i)
		}
		fmt.Fprintf(&s, "%02x ", c)
	}
	s.WriteString("|")
	return s.String()
}

// FormatValue renders a decoded value for humans
func FormatValue(v interface{}) string {
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}

// SortedKeys returns the field names of r in ascending order
func (r Result) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float returns the value of field name as float64 if it is numeric
func (r Result) Float(name string) (float64, bool) {
	switch n := r[name].(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// FormatResult renders one "name = value" line per field, sorted by name
func FormatResult(r Result) string {
	keys := r.SortedKeys()
	width := 0
	for _, k := range keys {
		if len(k) > width {
			width = len(k)
		}
	}
	var s strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&s, "  %-*s = %s\n", width, k, FormatValue(r[k]))
	}
	return s.String()
}

// FormatConfig describes a version configuration and its queries
func FormatConfig(cfg *VersionConfig) string {
	var s strings.Builder
	fmt.Fprintf(&s, "Versions: %s\n", strings.Join(cfg.Versions, " "))
	fmt.Fprintf(&s, "Author:   %s\n", cfg.Author)
	fmt.Fprintf(&s, "Comment:  %s\n", cfg.Comment)
	if cfg.Source != "" {
		fmt.Fprintf(&s, "Source:   %s\n", cfg.Source)
	}
	if cfg.Replace != nil {
		fmt.Fprintf(&s, "Replace:  % X -> % X\n", cfg.Replace.Old, cfg.Replace.New)
	}
	for _, q := range cfg.Queries {
		fmt.Fprintf(&s, "  %s (request % X, %d bytes) %s\n", q.Name, q.Request, q.ResponseLength, q.Comment)
		for _, f := range q.Fields {
			extra := strconv.Itoa(f.Scale)
			if f.Kind == KindDateTime {
				extra = strconv.Quote(f.Separator)
			}
			fmt.Fprintf(&s, "    %-24s @%-3d %-10s %d %s\n", f.Name, f.Offset, f.Kind, f.Size, extra)
		}
	}
	return s.String()
}
