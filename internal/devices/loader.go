package devices

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenTestRig/internal/types"
	"gopkg.in/yaml.v3"
)

var ErrProfileNotFound = errors.New("profile not found")

const indexFile = "index.yaml"

// ProfileLoader resolves machine profiles below a list of search paths.
// Each vendor has its own directory with an index.yaml naming its models.
// A profile reference is "vendor/model".
type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *ProfileLoader) SearchPaths() []string { return l.searchPaths }

func (l *ProfileLoader) Validator() *Validator { return l.validator }

func SplitRef(ref string) (vendor, model string, err error) {
	vendor, model, ok := strings.Cut(strings.Trim(ref, "/"), "/")
	if !ok || vendor == "" || model == "" || strings.Contains(model, "/") {
		return "", "", fmt.Errorf("%w: reference %q, expected vendor/model", ErrInvalidProfile, ref)
	}
	return vendor, model, nil
}

// Load returns the profile for ref, reading and validating it on first use.
func (l *ProfileLoader) Load(ref string) (*types.MachineProfileDefinition, error) {
	if cached, ok := l.cache.Load(ref); ok {
		return cached.(*types.MachineProfileDefinition), nil
	}

	vendor, model, err := SplitRef(ref)
	if err != nil {
		return nil, err
	}

	for _, searchPath := range l.searchPaths {
		vendorPath := filepath.Join(searchPath, vendor)
		index, err := readIndex(vendorPath)
		if err != nil {
			continue
		}
		entry, ok := findProfile(index, vendor, model)
		if !ok {
			continue
		}

		profile, err := l.LoadFile(filepath.Join(vendorPath, entry.File))
		if err != nil {
			return nil, err
		}
		l.cache.Store(ref, profile)
		return profile, nil
	}

	return nil, fmt.Errorf("%w: %s (searched in: %v)", ErrProfileNotFound, ref, l.searchPaths)
}

// LoadFile reads and validates a single profile file. The result is not cached.
func (l *ProfileLoader) LoadFile(path string) (*types.MachineProfileDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", path, err)
	}

	var profile types.MachineProfileDefinition
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &profile, nil
}

// Vendors lists the vendor indexes found in all search paths. A vendor
// present in several paths is reported from the first one.
func (l *ProfileLoader) Vendors() ([]types.VendorIndex, error) {
	seen := make(map[string]bool)
	vendors := make([]types.VendorIndex, 0)

	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", searchPath, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() || seen[entry.Name()] {
				continue
			}
			index, err := readIndex(filepath.Join(searchPath, entry.Name()))
			if err != nil {
				continue
			}
			seen[entry.Name()] = true
			vendors = append(vendors, *index)
		}
	}

	sort.Slice(vendors, func(i, j int) bool { return vendors[i].Vendor < vendors[j].Vendor })
	return vendors, nil
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}

func readIndex(vendorPath string) (*types.VendorIndex, error) {
	data, err := os.ReadFile(filepath.Join(vendorPath, indexFile))
	if err != nil {
		return nil, err
	}

	var index types.VendorIndex
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse vendor index: %w", err)
	}
	if index.Vendor == "" {
		index.Vendor = filepath.Base(vendorPath)
	}
	return &index, nil
}

// findProfile matches model case-insensitively against the model, the id
// and the vendor-prefixed id of each entry.
func findProfile(index *types.VendorIndex, vendor, model string) (types.ProfileRef, bool) {
	for _, p := range index.Profiles {
		if strings.EqualFold(p.Model, model) ||
			strings.EqualFold(p.ID, model) ||
			strings.EqualFold(p.ID, vendor+"-"+model) {
			return p, true
		}
	}
	return types.ProfileRef{}, false
}
