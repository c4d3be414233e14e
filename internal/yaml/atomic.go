// Package yaml provides atomic YAML file I/O, schema headers, and recovery
// of corrupted workspace files.
package yaml

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals data and writes it with AtomicWriteRaw.
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw replaces path with content. Content that is not valid YAML
// is refused before anything touches the disk. The previous version, if any,
// survives as path+".bak".
func AtomicWriteRaw(path string, content []byte) error {
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("refusing invalid yaml for %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	mode := os.FileMode(0644)
	prev, statErr := os.Stat(path)
	if statErr == nil {
		mode = prev.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".autosteer-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if statErr == nil {
		if err := backup(path); err != nil {
			return fmt.Errorf("back up %s: %w", filepath.Base(path), err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return syncDir(dir)
}

// backup points path+".bak" at the current content of path. A hard link is
// enough since the rename that follows replaces path's directory entry, not
// its inode.
func backup(path string) error {
	bak := path + ".bak"
	_ = os.Remove(bak)
	if err := os.Link(path, bak); err == nil {
		return nil
	}
	return copyFile(path, bak)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}

// WriteDocument writes data under a schema header of the given file type.
// data must marshal to a mapping.
func WriteDocument(path, fileType string, data any) error {
	body, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	var fields yamlv3.Node
	if err := yamlv3.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("yaml remarshal: %w", err)
	}
	if len(fields.Content) != 1 || fields.Content[0].Kind != yamlv3.MappingNode {
		return fmt.Errorf("write %s: document is not a mapping", fileType)
	}
	if len(fields.Content[0].Content) == 0 {
		body = nil
	}

	header := fmt.Sprintf("schema_version: %d\nfile_type: %s\n", CurrentSchemaVersion, fileType)
	return AtomicWriteRaw(path, append([]byte(header), body...))
}

// ReadDocument validates the schema header of path and decodes it into out.
func ReadDocument(path, fileType string, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		return fmt.Errorf("%s: decode: %w", filepath.Base(path), err)
	}
	return nil
}

func validateYAML(content []byte) error {
	var v any
	return yamlv3.Unmarshal(content, &v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
