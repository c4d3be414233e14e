package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// QuarantineDirName holds corrupted documents moved out of the way.
const QuarantineDirName = "quarantine"

// Recovery reports what RecoverCorruptedFile did.
type Recovery struct {
	QuarantinePath string
	// Restored is set when the previous version came back from its .bak.
	Restored bool
}

// Quarantine moves a corrupted file under <workspaceDir>/quarantine and
// returns its new path.
func Quarantine(workspaceDir, filePath string) (string, error) {
	dir := filepath.Join(workspaceDir, QuarantineDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().UTC().Format("20060102T150405.000"))
	dst := filepath.Join(dir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

// RestoreFromBackup replaces filePath with its .bak if the backup is a valid
// document of fileType.
func RestoreFromBackup(filePath, fileType string) error {
	content, err := os.ReadFile(filePath + ".bak")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no backup for %s", filepath.Base(filePath))
		}
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup is also corrupted: %w", err)
	}
	if err := ValidateSchemaHeaderFromBytes(content, fileType); err != nil {
		return fmt.Errorf("backup header: %w", err)
	}
	return AtomicWriteRaw(filePath, content)
}

// RecoverCorruptedFile quarantines filePath and then tries to restore it from
// its backup. A file without a usable backup stays absent: an empty document
// would hide the loss.
func RecoverCorruptedFile(workspaceDir, filePath, fileType string) (Recovery, error) {
	dst, err := Quarantine(workspaceDir, filePath)
	if err != nil {
		return Recovery{}, fmt.Errorf("quarantine: %w", err)
	}
	rec := Recovery{QuarantinePath: dst}
	if err := RestoreFromBackup(filePath, fileType); err != nil {
		return rec, err
	}
	rec.Restored = true
	return rec, nil
}
