package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const (
	// Budget defaults, in bytes
	DefaultLimitBytes  = 5 * 1024 * 1024
	DefaultMarginBytes = 120 * 1024 * 1024 / 1000

	DefaultQuality = "ebook"

	// File operation constants
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644

	partInfix = "_parte_"
)

// GenerateUUID generates a new UUID string
func GenerateUUID() string {
	return uuid.New().String()
}

// ShortID returns the first block of a fresh UUID, used for directory names
func ShortID() string {
	return strings.SplitN(GenerateUUID(), "-", 2)[0]
}

// CopyFile copies src to dst, creating parent directories as needed.
// The source is never modified.
func CopyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), DefaultDirPermissions); err != nil {
		return err
	}

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}

// MoveFile renames src to dst and falls back to copy+remove across devices.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), DefaultDirPermissions); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// FileSize returns the size of path in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// PartName builds "<base>_parte_NN<ext>" for a 1-based part index.
func PartName(base string, index int) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s%s%02d%s", stem, partInfix, index, ext)
}

// FormatBytes renders a byte count for labels and log lines.
func FormatBytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	return humanize.IBytes(uint64(n))
}

// ParseBytes accepts "5MB", "5MiB", "120KB" or a plain byte count.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}
