package models

import "time"

// FileRecord is one fingerprinted file inside a manifest
type FileRecord struct {
	RelativePath string    `json:"relative_path" yaml:"relative_path"`
	Fingerprint  Digest    `json:"fingerprint" yaml:"fingerprint"`
	Size         int64     `json:"size" yaml:"size"`
	RecordedAt   time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Manifest is an immutable, versioned snapshot of path -> fingerprint
type Manifest struct {
	VersionID  string       `json:"version_id"`
	CreatedAt  time.Time    `json:"created_at"`
	Records    []FileRecord `json:"records"`
	ScopeRoots []string     `json:"scope_roots"`
}

// Lookup returns the record stored for a relative path.
func (m *Manifest) Lookup(relPath string) (FileRecord, bool) {
	if m == nil {
		return FileRecord{}, false
	}
	for _, rec := range m.Records {
		if rec.RelativePath == relPath {
			return rec, true
		}
	}
	return FileRecord{}, false
}

// HasFingerprint reports whether any record carries the digest.
func (m *Manifest) HasFingerprint(d Digest) bool {
	return len(m.PathsFor(d)) > 0
}

// PathsFor returns every path whose content hashes to d.
func (m *Manifest) PathsFor(d Digest) []string {
	if m == nil {
		return nil
	}
	var paths []string
	for _, rec := range m.Records {
		if rec.Fingerprint == d {
			paths = append(paths, rec.RelativePath)
		}
	}
	return paths
}

// Fingerprints indexes the manifest by digest.
func (m *Manifest) Fingerprints() map[Digest]struct{} {
	out := make(map[Digest]struct{}, len(m.Records))
	for _, rec := range m.Records {
		out[rec.Fingerprint] = struct{}{}
	}
	return out
}

// DriftReport partitions the current file set against a manifest
type DriftReport struct {
	ManifestVersion string   `json:"manifest_version"`
	Unchanged       []string `json:"unchanged"`
	Modified        []string `json:"modified"`
	Added           []string `json:"added"`
	Missing         []string `json:"missing"`
}

// HasDrift reports whether anything other than unchanged files was seen.
func (r *DriftReport) HasDrift() bool {
	if r == nil {
		return false
	}
	return len(r.Modified)+len(r.Added)+len(r.Missing) > 0
}
