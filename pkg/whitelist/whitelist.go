// Package whitelist holds the static table of supported sensor peripherals.
package whitelist

import (
	"errors"
	"fmt"
	"os"

	"github.com/srg/vitalink/internal/device"
	"gopkg.in/yaml.v3"
)

// Entry describes a supported peripheral model. Zero DesiredMTU or
// DefaultPacketLength mean "not specified".
type Entry struct {
	ID                   string `json:"id" yaml:"id"`
	Name                 string `json:"name" yaml:"name"`
	DesiredMTU           int    `json:"desired_mtu,omitempty" yaml:"desired_mtu,omitempty"`
	DefaultPacketLength  int    `json:"default_packet_length,omitempty" yaml:"default_packet_length,omitempty"`
	ParserID             string `json:"parser" yaml:"parser"`
	Service              string `json:"service,omitempty" yaml:"service,omitempty"`
	NotifyCharacteristic string `json:"notify_characteristic,omitempty" yaml:"notify_characteristic,omitempty"`
}

// Table is an immutable list of entries. Lookups are linear; the table holds a
// handful of models.
type Table struct {
	entries []Entry
}

// New builds a table from entries.
func New(entries ...Entry) *Table {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Table{entries: cp}
}

// Entries returns a copy of the table rows.
func (t *Table) Entries() []Entry {
	cp := make([]Entry, len(t.entries))
	copy(cp, t.entries)
	return cp
}

// ByID finds an entry by its stable id.
func (t *Table) ByID(id string) (Entry, bool) {
	for _, e := range t.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ByName finds an entry by exact advertised name.
func (t *Table) ByName(name string) (Entry, bool) {
	if name == "" {
		return Entry{}, false
	}
	for _, e := range t.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// IsWhitelisted reports whether an advertised name matches an entry.
// Matching is exact and case-sensitive.
func (t *Table) IsWhitelisted(name string) bool {
	_, ok := t.ByName(name)
	return ok
}

// Match resolves the entry for a discovered peripheral: by name first, then by id.
func (t *Table) Match(d device.Descriptor) (Entry, bool) {
	if e, ok := t.ByName(d.Name); ok {
		return e, true
	}
	return t.ByID(d.ID)
}

// Lookup resolves a user supplied reference that may be an entry id or a name.
func (t *Table) Lookup(ref string) (Entry, bool) {
	if e, ok := t.ByID(ref); ok {
		return e, true
	}
	return t.ByName(ref)
}

// Filter keeps whitelisted peripherals, unique by name. The last occurrence
// of a name wins; output follows first-seen order.
func (t *Table) Filter(found []device.Descriptor) []device.Descriptor {
	index := make(map[string]int)
	var out []device.Descriptor
	for _, d := range found {
		if !t.IsWhitelisted(d.Name) {
			continue
		}
		if i, ok := index[d.Name]; ok {
			out[i] = d
			continue
		}
		index[d.Name] = len(out)
		out = append(out, d)
	}
	return out
}

// Names lists advertised names, in table order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		names = append(names, e.Name)
	}
	return names
}

// ParserChecker reports whether a parser id is registered.
type ParserChecker interface {
	Has(id string) bool
}

// Validate reports structural problems and entries with unknown parser ids.
// Unknown parsers are not fatal at runtime (the default decoder is used), so
// callers usually log the result.
func (t *Table) Validate(parsers ParserChecker) error {
	var errs []error
	ids := make(map[string]struct{})
	for i, e := range t.entries {
		if e.ID == "" || e.Name == "" {
			errs = append(errs, fmt.Errorf("entry %d: id and name are required", i))
		}
		if _, dup := ids[e.ID]; dup {
			errs = append(errs, fmt.Errorf("entry %q: duplicate id", e.ID))
		}
		ids[e.ID] = struct{}{}
		if e.DesiredMTU < 0 || e.DefaultPacketLength < 0 {
			errs = append(errs, fmt.Errorf("entry %q: negative size", e.ID))
		}
		if parsers != nil && e.ParserID != "" && !parsers.Has(e.ParserID) {
			errs = append(errs, fmt.Errorf("entry %q: unknown parser %q", e.ID, e.ParserID))
		}
	}
	return errors.Join(errs...)
}

type file struct {
	Devices []Entry `yaml:"devices"`
}

// Parse decodes a YAML table of the form `devices: [...]`.
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse whitelist: %w", err)
	}
	if len(f.Devices) == 0 {
		return nil, errors.New("whitelist has no devices")
	}
	return New(f.Devices...), nil
}

// LoadFile reads a YAML whitelist from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read whitelist %s: %w", path, err)
	}
	return Parse(data)
}
