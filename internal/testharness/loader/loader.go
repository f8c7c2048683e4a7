package loader

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// knownOptions are the option names a profile may declare unsupported.
var knownOptions = map[string]bool{
	"password":                 true,
	"tls":                      true,
	"sasl":                     true,
	"restricted_metadata_keys": true,
	"metadata_keys":            true,
}

// ParseProfile parses a profile from YAML bytes.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}

	if p.Name == "" {
		return nil, &LoadError{Message: "profile name is required"}
	}
	if p.Kind != KindServer && p.Kind != KindClient {
		return nil, &LoadError{Message: "profile kind must be server or client, got " + string(p.Kind)}
	}
	if len(p.Run) == 0 {
		return nil, &LoadError{Message: "profile run command is required"}
	}
	for _, u := range p.Unsupported {
		if !knownOptions[u] {
			return nil, &LoadError{Message: "unknown unsupported option " + u}
		}
	}
	for _, f := range p.Files {
		if f.Path == "" || filepath.IsAbs(f.Path) || strings.HasPrefix(filepath.Clean(f.Path), "..") {
			return nil, &LoadError{Message: "file path must be relative to the working directory: " + f.Path}
		}
	}
	if p.Registration != nil && p.Registration.Expect == "" {
		return nil, &LoadError{Message: "registration expect is required"}
	}
	if p.Software == "" {
		p.Software = p.Name
	}

	return &p, nil
}

// LoadProfile loads a profile from a file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	p, err := ParseProfile(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}

	p.SourcePath = path
	return p, nil
}

// LoadDirectory loads all profiles from a directory, sorted by name.
// Only files with .yaml or .yml extensions are loaded.
func LoadDirectory(dir string) ([]*Profile, error) {
	var profiles []*Profile

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{
			File:    dir,
			Message: "failed to read directory",
			Cause:   err,
		}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		p, err := LoadProfile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Name < profiles[j].Name
	})
	return profiles, nil
}

// Find returns the profile with the given name.
func Find(profiles []*Profile, name string) (*Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Resolve loads a profile given either a file path or a name looked up in
// dir.
func Resolve(ref, dir string) (*Profile, error) {
	if strings.ContainsRune(ref, os.PathSeparator) || strings.HasSuffix(ref, ".yaml") || strings.HasSuffix(ref, ".yml") {
		return LoadProfile(ref)
	}
	profiles, err := LoadDirectory(dir)
	if err != nil {
		return nil, err
	}
	p, ok := Find(profiles, ref)
	if !ok {
		return nil, &LoadError{File: dir, Message: "no profile named " + ref}
	}
	return p, nil
}

// LoadFS loads all profiles at the root of fsys, sorted by name.
func LoadFS(fsys fs.FS) ([]*Profile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, &LoadError{Message: "failed to read profiles", Cause: err}
	}

	var profiles []*Profile
	for _, entry := range entries {
		ext := strings.ToLower(path.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, &LoadError{File: entry.Name(), Message: "failed to read file", Cause: err}
		}
		p, err := ParseProfile(data)
		if err != nil {
			var le *LoadError
			if errors.As(err, &le) {
				le.File = entry.Name()
			}
			return nil, err
		}
		p.SourcePath = entry.Name()
		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Name < profiles[j].Name
	})
	return profiles, nil
}
