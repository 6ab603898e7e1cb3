// Package catalog maps GPU technology names to their memory, compute and
// cost profiles. The orchestrator consults it to auto-size GPUs registered
// without explicit capacity. Profiles can be extended from any
// afs-reachable YAML document.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Profile describes one GPU technology.
type Profile struct {
	GPUType      string  `yaml:"type" json:"type"`
	MemoryMB     int     `yaml:"memory_mb" json:"memory_mb"`
	ComputeUnits int     `yaml:"compute_units" json:"compute_units"`
	HourlyCost   float64 `yaml:"hourly_cost" json:"hourly_cost"`
}

// document is the on-disk shape of a catalog extension.
type document struct {
	Profiles []Profile `yaml:"profiles"`
}

// Service is a thread-safe profile registry seeded with common
// technologies.
type Service struct {
	fs       afs.Service
	mu       sync.RWMutex
	profiles map[string]Profile
}

// New creates a catalog seeded with the built-in profiles.
func New() *Service {
	s := &Service{
		fs:       afs.New(),
		profiles: map[string]Profile{},
	}
	for _, p := range builtinProfiles {
		s.profiles[normalize(p.GPUType)] = p
	}
	return s
}

var builtinProfiles = []Profile{
	{GPUType: "A100", MemoryMB: 40960, ComputeUnits: 100, HourlyCost: 3.67},
	{GPUType: "A100-80GB", MemoryMB: 81920, ComputeUnits: 100, HourlyCost: 5.12},
	{GPUType: "H100", MemoryMB: 81920, ComputeUnits: 140, HourlyCost: 8.21},
	{GPUType: "MI300X", MemoryMB: 196608, ComputeUnits: 160, HourlyCost: 6.95},
	{GPUType: "L4", MemoryMB: 24576, ComputeUnits: 30, HourlyCost: 0.81},
	{GPUType: "T4", MemoryMB: 16384, ComputeUnits: 20, HourlyCost: 0.53},
}

func normalize(gpuType string) string {
	return strings.ToUpper(strings.TrimSpace(gpuType))
}

// Lookup resolves a profile by technology name (case-insensitive).
func (s *Service) Lookup(gpuType string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[normalize(gpuType)]
	return p, ok
}

// Upsert registers or replaces a profile.
func (s *Service) Upsert(p Profile) error {
	if p.GPUType == "" {
		return fmt.Errorf("profile type cannot be empty")
	}
	if p.MemoryMB <= 0 || p.ComputeUnits <= 0 {
		return fmt.Errorf("profile %s: memory and compute must be positive", p.GPUType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[normalize(p.GPUType)] = p
	return nil
}

// Types lists the registered technology names.
func (s *Service) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.GPUType)
	}
	return out
}

// Load merges profiles from a YAML document located at URL. Any scheme
// supported by afs works (file, s3, gs, mem, ...). Environment variables
// in the location are expanded.
func (s *Service) Load(ctx context.Context, URL string) error {
	URL = os.ExpandEnv(URL)
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return fmt.Errorf("loading catalog %s: %w", URL, err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding catalog %s: %w", URL, err)
	}
	for _, p := range doc.Profiles {
		if err := s.Upsert(p); err != nil {
			return fmt.Errorf("catalog %s: %w", URL, err)
		}
	}
	return nil
}
