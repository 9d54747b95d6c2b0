// Package audit records successful API calls and holds the list of declared
// API methods that may be registered on the dispatcher.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const logPrefix = "audit:methods"

// MethodsFile is the on-disk shape of a declared methods list, in JSON or YAML.
type MethodsFile struct {
	Methods []string `json:"methods" yaml:"methods"`
}

// DefaultMethods returns the API method ids declared when no file is given.
func DefaultMethods() []string {
	return []string{
		"service.info",
		"getAccessInfo",
		"auth.login",
		"auth.logout",
		"accesses.get",
		"accesses.create",
		"accesses.delete",
		"streams.get",
		"streams.create",
		"streams.update",
		"streams.delete",
		"events.get",
		"events.getOne",
		"events.create",
		"events.update",
		"events.delete",
		"profile.get",
		"profile.update",
		"followedSlices.get",
		"webhooks.get",
		"audit.getLogs",
	}
}

// DeclaredMethods is a fixed set of method ids.
type DeclaredMethods struct {
	ids map[string]struct{}
}

// NewDeclaredMethods creates a DeclaredMethods from ids.
func NewDeclaredMethods(ids []string) *DeclaredMethods {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return &DeclaredMethods{ids: set}
}

// LoadDeclaredMethods loads the first readable file among paths. Files ending
// in .yaml or .yml are parsed as YAML, anything else as JSON. Unreadable or
// unparsable files are skipped; the defaults are used when none loads.
func LoadDeclaredMethods(paths ...string) *DeclaredMethods {
	for _, p := range paths {
		if p == "" {
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Cannot read methods file %s: %v", logPrefix, p, err))
			continue
		}

		var mf MethodsFile
		if err := unmarshalMethods(p, data, &mf); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse methods file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded %d declared methods from %s", logPrefix, len(mf.Methods), p))
		return NewDeclaredMethods(mf.Methods)
	}

	slog.Info(fmt.Sprintf("%s - Using default declared methods", logPrefix))
	return NewDeclaredMethods(DefaultMethods())
}

func unmarshalMethods(path string, data []byte, mf *MethodsFile) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, mf)
	default:
		return json.Unmarshal(data, mf)
	}
}

// IsDeclared reports whether id is one of the declared method ids.
func (d *DeclaredMethods) IsDeclared(id string) bool {
	_, ok := d.ids[id]
	return ok
}

// Validate accepts a declared id, or a wildcard pattern matching at least one
// declared id. It is meant as api.Options.ValidateMethod.
func (d *DeclaredMethods) Validate(id string) error {
	if prefix, ok := strings.CutSuffix(id, "*"); ok {
		for declared := range d.ids {
			if strings.HasPrefix(declared, prefix) {
				return nil
			}
		}
		return fmt.Errorf("%s - pattern %q matches no declared method", logPrefix, id)
	}
	if !d.IsDeclared(id) {
		return fmt.Errorf("%s - method %q is not declared", logPrefix, id)
	}
	return nil
}

// List returns the declared ids, sorted.
func (d *DeclaredMethods) List() []string {
	out := make([]string, 0, len(d.ids))
	for id := range d.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
