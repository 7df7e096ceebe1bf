package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// Mask replaces every value in a masked export. Updating a key with Mask
// keeps the stored value.
const Mask = "******"

// Source is the read side of the credential store used by provider builders.
type Source interface {
	// Get returns an ungrouped value, falling back to the process environment.
	Get(key string) string
	// Groups returns the named credential groups in file order.
	Groups() []string
	// GroupGet returns a value from one named group. No fallback applies.
	GroupGet(group, key string) string
	// Fingerprint changes whenever any stored value changes.
	Fingerprint() uint64
}

// Group is one named credential section, written as "## name" in the env file.
type Group struct {
	Name   string            `json:"name" yaml:"name"`
	Values map[string]string `json:"values" yaml:"values"`
}

// Credentials is the full content of a credential file.
type Credentials struct {
	Default map[string]string `json:"default" yaml:"default"`
	Groups  []Group           `json:"groups" yaml:"groups"`
}

func (c Credentials) group(name string) (map[string]string, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g.Values, true
		}
	}
	return nil, false
}

func (c Credentials) clone() Credentials {
	out := Credentials{Default: maps.Clone(c.Default)}
	if out.Default == nil {
		out.Default = map[string]string{}
	}
	for _, g := range c.Groups {
		out.Groups = append(out.Groups, Group{Name: g.Name, Values: maps.Clone(g.Values)})
	}
	return out
}

// Store holds provider credentials read from a grouped .env file and an
// optional YAML file. The .env file takes precedence and is the only file
// Save writes.
type Store struct {
	mu        sync.RWMutex
	envPath   string
	yamlPath  string
	env       Credentials
	yaml      Credentials
	lookupEnv func(string) (string, bool)
	onReload  []func()
}

// NewStore loads both files. Missing files are treated as empty.
func NewStore(envPath, yamlPath string) (*Store, error) {
	s := &Store{
		envPath:   envPath,
		yamlPath:  yamlPath,
		lookupEnv: os.LookupEnv,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemoryStore returns a store backed only by c. It never consults the
// process environment and cannot be saved.
func NewMemoryStore(c Credentials) *Store {
	return &Store{env: c.clone()}
}

// Reload re-reads the credential files and notifies OnReload callbacks.
func (s *Store) Reload() error {
	env, err := readEnvFile(s.envPath)
	if err != nil {
		return err
	}
	yml, err := readYAMLFile(s.yamlPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.env = env
	s.yaml = yml
	callbacks := slices.Clone(s.onReload)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// OnReload registers fn to run after every successful Reload.
func (s *Store) OnReload(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Get returns an ungrouped value from the env file, the YAML file or the
// process environment, in that order.
func (s *Store) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v := s.env.Default[key]; v != "" {
		return v
	}
	if v := s.yaml.Default[key]; v != "" {
		return v
	}
	if s.lookupEnv != nil {
		if v, ok := s.lookupEnv(key); ok {
			return v
		}
	}
	return ""
}

// Groups returns group names from the env file followed by YAML-only groups.
func (s *Store) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for _, g := range s.env.Groups {
		names = append(names, g.Name)
	}
	for _, g := range s.yaml.Groups {
		if !slices.Contains(names, g.Name) {
			names = append(names, g.Name)
		}
	}
	return names
}

// GroupGet returns key from the named group.
func (s *Store) GroupGet(group, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if vals, ok := s.env.group(group); ok && vals[key] != "" {
		return vals[key]
	}
	if vals, ok := s.yaml.group(group); ok {
		return vals[key]
	}
	return ""
}

// Fingerprint hashes every stored key and value.
func (s *Store) Fingerprint() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := xxhash.New()
	for _, c := range []Credentials{s.env, s.yaml} {
		writeValues(h, "", c.Default)
		for _, g := range c.Groups {
			writeValues(h, g.Name, g.Values)
		}
	}
	return h.Sum64()
}

func writeValues(h *xxhash.Digest, group string, vals map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(vals)) {
		_, _ = h.WriteString(group)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(vals[k])
		_, _ = h.WriteString("\n")
	}
}

// Export returns a copy of the env file content. With mask set every value
// is replaced by Mask.
func (s *Store) Export(mask bool) Credentials {
	s.mu.RLock()
	out := s.env.clone()
	s.mu.RUnlock()

	if !mask {
		return out
	}
	for k := range out.Default {
		out.Default[k] = Mask
	}
	for _, g := range out.Groups {
		for k := range g.Values {
			g.Values[k] = Mask
		}
	}
	return out
}

// Update replaces the env file content in memory. Values equal to Mask keep
// their current value; empty values remove the key.
func (s *Store) Update(c Credentials) error {
	next := c.clone()
	seen := map[string]bool{}
	for _, g := range next.Groups {
		if g.Name == "" {
			return errors.New("credential group name must not be empty")
		}
		if seen[g.Name] {
			return fmt.Errorf("duplicate credential group %q", g.Name)
		}
		seen[g.Name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resolve := func(vals, current map[string]string) {
		for k, v := range vals {
			switch v {
			case Mask:
				if cur, ok := current[k]; ok {
					vals[k] = cur
				} else {
					delete(vals, k)
				}
			case "":
				delete(vals, k)
			}
		}
	}
	resolve(next.Default, s.env.Default)
	for _, g := range next.Groups {
		current, _ := s.env.group(g.Name)
		if g.Values == nil {
			continue
		}
		resolve(g.Values, current)
	}
	s.env = next
	return nil
}

// Save writes the env file atomically.
func (s *Store) Save() error {
	if s.envPath == "" {
		return errors.New("credential store has no file to save to")
	}

	s.mu.RLock()
	content, err := formatEnvFile(s.env)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.envPath)
	tmp, err := os.CreateTemp(dir, ".env-*")
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.envPath); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	slog.Info("credentials saved", "path", s.envPath)
	return nil
}

func readEnvFile(path string) (Credentials, error) {
	if path == "" {
		return Credentials{Default: map[string]string{}}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{Default: map[string]string{}}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := parseEnvFile(string(data))
	if err != nil {
		return Credentials{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

func readYAMLFile(path string) (Credentials, error) {
	c := Credentials{Default: map[string]string{}}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if c.Default == nil {
		c.Default = map[string]string{}
	}
	for k, v := range c.Default {
		c.Default[k] = expandString(v)
	}
	for _, g := range c.Groups {
		for k, v := range g.Values {
			g.Values[k] = expandString(v)
		}
	}
	return c, nil
}
