// Package crate reads RO-Crate packages from disk: zip archives, crate
// directories and bare metadata documents.
package crate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MetadataFile is the name of the metadata document at a crate root.
const MetadataFile = "ro-crate-metadata.json"

// ErrNoMetadata is returned when no metadata document can be located.
var ErrNoMetadata = errors.New("could not locate " + MetadataFile)

// Crate is a parsed metadata document, optionally bound to a directory
// holding the payload files.
type Crate struct {
	// Root is empty for metadata-only crates.
	Root string

	Document   map[string]any
	Graph      []map[string]any
	Descriptor map[string]any
	RootEntity map[string]any
}

// Parse decodes a metadata document. Documents without a @graph are accepted
// with an empty graph so that checks can report them.
func Parse(data []byte) (*Crate, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetadataFile, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse %s: document is not a JSON object", MetadataFile)
	}

	c := &Crate{Document: doc}
	if items, ok := doc["@graph"].([]any); ok {
		for _, item := range items {
			if entity, ok := item.(map[string]any); ok {
				c.Graph = append(c.Graph, entity)
			}
		}
	}

	c.Descriptor = c.Entity(MetadataFile)
	if c.Descriptor == nil {
		c.Descriptor = c.Entity("./" + MetadataFile)
	}
	if c.Descriptor != nil {
		if about, ok := c.Descriptor["about"].(map[string]any); ok {
			if id, ok := about["@id"].(string); ok {
				c.RootEntity = c.Entity(id)
			}
		}
	}
	return c, nil
}

// Load reads and parses the metadata document at the crate root dir.
func Load(dir string) (*Crate, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoMetadata
		}
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.Root = dir
	return c, nil
}

// Entity returns the graph entity with the given @id, or nil.
func (c *Crate) Entity(id string) map[string]any {
	for _, e := range c.Graph {
		if eid, _ := e["@id"].(string); eid == id {
			return e
		}
	}
	return nil
}

// ConformsTo collects the conformsTo ids of the descriptor and the root data
// entity.
func (c *Crate) ConformsTo() []string {
	var out []string
	for _, e := range []map[string]any{c.Descriptor, c.RootEntity} {
		if e == nil {
			continue
		}
		out = append(out, ids(e["conformsTo"])...)
	}
	return out
}

// HasType reports whether entity declares typ in its @type.
func HasType(entity map[string]any, typ string) bool {
	switch t := entity["@type"].(type) {
	case string:
		return t == typ
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == typ {
				return true
			}
		}
	}
	return false
}

func ids(v any) []string {
	switch t := v.(type) {
	case map[string]any:
		if id, ok := t["@id"].(string); ok {
			return []string{id}
		}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, ids(item)...)
		}
		return out
	case string:
		return []string{t}
	}
	return nil
}

// FindRoot returns the shallowest directory under dir that contains a
// metadata document. Ties are broken lexically.
func FindRoot(dir string) (string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == MetadataFile {
			found = append(found, filepath.Dir(path))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", ErrNoMetadata
	}

	sort.SliceStable(found, func(i, j int) bool {
		di := strings.Count(found[i], string(os.PathSeparator))
		dj := strings.Count(found[j], string(os.PathSeparator))
		if di != dj {
			return di < dj
		}
		return found[i] < found[j]
	})
	return found[0], nil
}

// Open prepares the crate at path for reading. Zip archives are extracted
// into workDir first. The returned crate is rooted at the directory that
// holds the metadata document.
func Open(path, workDir string) (*Crate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	dir := path
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(path), ".zip") {
			return nil, fmt.Errorf("unsupported crate source %s: expected a directory or .zip", filepath.Base(path))
		}
		dir = filepath.Join(workDir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		if err := Extract(path, dir); err != nil {
			return nil, err
		}
	}

	root, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}
	return Load(root)
}

// WriteMetadataOnly creates a fresh directory under parent (os.TempDir when
// empty) holding only the metadata document. The caller removes it.
func WriteMetadataOnly(parent string, crateJSON []byte) (string, error) {
	dir, err := os.MkdirTemp(parent, "crate-metadata-")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), crateJSON, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}
