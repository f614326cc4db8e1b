package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// RotateVMLogs rotates every *.console.log and *.agent.log file under root
// that exceeds maxBytes, keeping up to maxFiles numbered backups.
func RotateVMLogs(root string, maxBytes int64, maxFiles int) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read runtime dir: %w", err)
	}

	var errsAgg *multierror.Error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, ".console.log") && !strings.HasSuffix(name, ".agent.log")) {
			continue
		}
		if err := rotateLogIfNeeded(filepath.Join(root, name), maxBytes, maxFiles); err != nil {
			errsAgg = multierror.Append(errsAgg, err)
		}
	}
	return errsAgg.ErrorOrNil()
}

func rotateLogIfNeeded(path string, maxBytes int64, maxFiles int) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < maxBytes {
		return nil
	}

	for i := maxFiles; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", path, i)
		newPath := fmt.Sprintf("%s.%d", path, i+1)
		if i == maxFiles {
			os.Remove(oldPath)
		} else {
			os.Rename(oldPath, newPath)
		}
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log for rotation: %w", err)
	}
	dst, err := os.Create(path + ".1")
	if err != nil {
		src.Close()
		return fmt.Errorf("create backup: %w", err)
	}
	_, err = io.Copy(dst, src)
	src.Close()
	dst.Close()
	if err != nil {
		return fmt.Errorf("copy to backup: %w", err)
	}

	if err := os.Truncate(path, 0); err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	return nil
}
