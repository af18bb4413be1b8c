// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package lwz

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"
)

// VersionFileExt is the extension of version description files
const VersionFileExt = ".ini"

// Registry maps firmware version strings to their protocol description.
// Configs are stored once and shared by every version that declares them.
type Registry struct {
	configs []*VersionConfig
	index   map[string]int
}

// RegistryOption configures version file parsing
type RegistryOption func(*registryOptions)

type registryOptions struct {
	lenient bool
	log     zerolog.Logger
}

// WithLenientFieldKinds silently drops fields with an unknown kind instead of
// failing, which is how legacy version files were handled.
func WithLenientFieldKinds() RegistryOption {
	return func(o *registryOptions) { o.lenient = true }
}

// WithRegistryLogger sets the logger used while loading version files
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(o *registryOptions) { o.log = l }
}

func newRegistryOptions(opts []RegistryOption) registryOptions {
	o := registryOptions{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRegistry builds a registry from configs, binding each config to its Versions
func NewRegistry(configs ...*VersionConfig) *Registry {
	r := &Registry{index: make(map[string]int)}
	for _, cfg := range configs {
		r.add(cfg.Versions, cfg)
	}
	return r
}

func (r *Registry) add(versions []string, cfg *VersionConfig) {
	r.configs = append(r.configs, cfg)
	slot := len(r.configs) - 1
	for _, v := range versions {
		r.index[v] = slot
	}
}

// LoadRegistry parses every version file in dir, in file name order.
// A version declared by more than one file is bound to the last one and
// removed from the Versions of the config it replaced.
func LoadRegistry(dir string, opts ...RegistryOption) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("lwz: read versions directory: %w", err)
	}
	o := newRegistryOptions(opts)

	r := &Registry{index: make(map[string]int)}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), VersionFileExt) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		versions, cfg, err := ParseVersionFile(path, opts...)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			if prev, ok := r.index[v]; ok {
				o.log.Warn().
					Str("version", v).
					Str("previous", r.configs[prev].Source).
					Str("file", path).
					Msg("version declared twice, last file wins")
				r.configs[prev].Versions = without(r.configs[prev].Versions, v)
			}
		}
		r.add(versions, cfg)
		o.log.Debug().Str("file", path).Strs("versions", versions).Msg("loaded version file")
	}
	return r, nil
}

// without returns a copy of versions with v removed
func without(versions []string, v string) []string {
	out := make([]string, 0, len(versions))
	for _, s := range versions {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// Lookup returns the configuration bound to version
func (r *Registry) Lookup(version string) (*VersionConfig, error) {
	slot, ok := r.index[version]
	if !ok {
		return nil, fmt.Errorf("lwz: lookup version %q: %w", version, ErrConfigurationMissing)
	}
	return r.configs[slot], nil
}

// Versions returns every known version string in ascending order
func (r *Registry) Versions() []string {
	versions := make([]string, 0, len(r.index))
	for v := range r.index {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Configs returns the distinct configurations in load order
func (r *Registry) Configs() []*VersionConfig {
	return r.configs
}

// Len returns the number of known version strings
func (r *Registry) Len() int {
	return len(r.index)
}

// ParseVersionFile parses one version description file and returns the
// versions it applies to together with the parsed configuration.
func ParseVersionFile(path string, opts ...RegistryOption) ([]string, *VersionConfig, error) {
	o := newRegistryOptions(opts)

	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:          true,
		SpaceBeforeInlineComment: true,
		IgnoreContinuation:       true,
	}, path)
	if err != nil {
		return nil, nil, fmt.Errorf("lwz: load %s: %w", path, err)
	}
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("lwz: %s: "+format, append([]interface{}{path}, args...)...)
	}

	global, err := f.GetSection("Global")
	if err != nil {
		return nil, nil, fail("missing [Global] section")
	}

	versions := strings.Fields(global.Key("versions").String())
	cfg := &VersionConfig{
		Author:   global.Key("author").String(),
		Comment:  global.Key("comment").String(),
		Source:   path,
		Versions: versions,
	}

	if global.HasKey("globalReplaceString") {
		raw, err := unescape(strings.TrimSpace(global.Key("globalReplaceString").String()))
		if err != nil {
			return nil, nil, fail("globalReplaceString: %w", err)
		}
		parts := strings.Fields(string(raw))
		switch len(parts) {
		case 0:
		case 2:
			cfg.Replace = &Replacement{Old: []byte(parts[0]), New: []byte(parts[1])}
		default:
			return nil, nil, fail("globalReplaceString needs 2 elements, got %d", len(parts))
		}
	}

	for _, name := range strings.Fields(global.Key("queries").String()) {
		sec, err := f.GetSection(name)
		if err != nil {
			return nil, nil, fail("query %s has no section", name)
		}
		q, err := parseQuery(name, sec, o)
		if err != nil {
			return nil, nil, fail("%w", err)
		}
		cfg.Queries = append(cfg.Queries, q)
	}

	return versions, cfg, nil
}

func parseQuery(name string, sec *ini.Section, o registryOptions) (QueryDefinition, error) {
	q := QueryDefinition{
		Name:    name,
		Comment: sec.Key("comment").String(),
	}

	request, err := unescape(sec.Key("request").String())
	if err != nil {
		return q, fmt.Errorf("query %s request: %w", name, err)
	}
	if len(request) == 0 {
		return q, fmt.Errorf("query %s has an empty request", name)
	}
	q.Request = request

	q.ResponseLength, err = sec.Key("responseLength").Int()
	if err != nil || q.ResponseLength < 0 {
		return q, fmt.Errorf("query %s: invalid responseLength %q", name, sec.Key("responseLength").String())
	}

	// fields are visited in key order so extraction order is stable
	var keys []*ini.Key
	for _, k := range sec.Keys() {
		if strings.HasPrefix(k.Name(), "value") {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name() < keys[j].Name() })

	seen := make(map[string]bool)
	for _, k := range keys {
		field, ok, err := parseField(k.String(), q.ResponseLength)
		if err != nil {
			return q, fmt.Errorf("query %s %s: %w", name, k.Name(), err)
		}
		if !ok {
			if !o.lenient {
				return q, fmt.Errorf("query %s %s: %w: %q", name, k.Name(), ErrUnknownFieldKind, k.String())
			}
			o.log.Debug().Str("query", name).Str("key", k.Name()).Msg("dropping field with unknown kind")
			continue
		}
		if seen[field.Name] {
			return q, fmt.Errorf("query %s %s: duplicate field name %s", name, k.Name(), field.Name)
		}
		seen[field.Name] = true
		q.Fields = append(q.Fields, field)
	}
	return q, nil
}

// parseField parses "name offset kind size [extra]". ok is false for an unknown kind.
func parseField(line string, responseLength int) (QueryField, bool, error) {
	parts := strings.Fields(line)
	if len(parts) < 4 {
		return QueryField{}, false, fmt.Errorf("field needs name, offset, kind and size, got %q", line)
	}

	f := QueryField{Name: parts[0]}
	var err error
	if f.Offset, err = strconv.Atoi(parts[1]); err != nil || f.Offset < 0 {
		return f, false, fmt.Errorf("invalid offset %q", parts[1])
	}
	if f.Size, err = strconv.Atoi(parts[3]); err != nil || f.Size <= 0 {
		return f, false, fmt.Errorf("invalid size %q", parts[3])
	}

	switch strings.ToLower(parts[2]) {
	case "fixedpoint":
		f.Kind = KindFixedPoint
		if len(parts) > 4 {
			if f.Scale, err = strconv.Atoi(parts[4]); err != nil || f.Scale < 0 {
				return f, false, fmt.Errorf("invalid decimal scale %q", parts[4])
			}
		}
	case "datetime":
		f.Kind = KindDateTime
		if len(parts) > 4 {
			f.Separator = parts[4]
		}
	default:
		return f, false, nil
	}

	if !supportedWidth(f.Kind, f.Size) {
		return f, false, fmt.Errorf("%w: %s field %s is %d bytes", ErrUnsupportedFieldWidth, f.Kind, f.Name, f.Size)
	}
	if f.Offset+f.Size > responseLength {
		return f, false, fmt.Errorf("%w: %s at %d+%d, response is %d bytes",
			ErrFieldOutOfRange, f.Name, f.Offset, f.Size, responseLength)
	}
	return f, true, nil
}

// unescape decodes backslash escapes (\xHH, one to three octal digits, \n,
// \\ ...) into raw bytes. Every other byte is copied unchanged and unknown
// escapes are kept literally.
func unescape(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		i++
		if i == len(s) {
			return nil, fmt.Errorf("trailing backslash in %q", s)
		}
		switch c := s[i]; c {
		case 'a':
			out = append(out, '\a')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'v':
			out = append(out, '\v')
		case '\\', '\'', '"':
			out = append(out, c)
		case 'x':
			if i+3 > len(s) {
				return nil, fmt.Errorf("truncated \\x escape in %q", s)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid \\x escape in %q", s)
			}
			out = append(out, byte(v))
			i += 2
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := int(c - '0')
			for n := 1; n < 3 && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '7'; n++ {
				i++
				v = v<<3 | int(s[i]-'0')
			}
			out = append(out, byte(v))
		default:
			out = append(out, '\\', c)
		}
	}
	return out, nil
}
