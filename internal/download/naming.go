package download

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const maxStemLength = 40

// SanitizeTitle reduces title to letters, digits, '_', '-', '.' and spaces,
// turns spaces into underscores and caps the result at 40 runes.
func SanitizeTitle(title string) string {
	kept := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_', r == '-', r == '.', r == ' ':
			return r
		default:
			return -1
		}
	}, title)

	stem := strings.ReplaceAll(strings.TrimSpace(kept), " ", "_")
	if runes := []rune(stem); len(runes) > maxStemLength {
		stem = string(runes[:maxStemLength])
	}
	// A stem made only of dots would name a hidden or relative path.
	if strings.Trim(stem, ".") == "" {
		return ""
	}
	return stem
}

// FileStem returns the sanitized title, or a random id when nothing usable remains.
func FileStem(title string) string {
	if stem := SanitizeTitle(title); stem != "" {
		return stem
	}
	return uuid.NewString()
}

// UniquePath returns dir/stem+ext, or dir/stem_N+ext for the smallest N >= 1
// that is free. taken reports names reserved by in-flight downloads.
func UniquePath(dir, stem, ext string, taken func(path string) bool) string {
	candidate := filepath.Join(dir, stem+ext)
	for n := 1; exists(candidate) || (taken != nil && taken(candidate)); n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
	return candidate
}

// EnsureWritableDir creates dir and proves it is writable by writing and
// deleting a probe file.
func EnsureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	probe := filepath.Join(dir, ".write-probe-"+uuid.NewString())
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("probe %s: %w", dir, err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("remove probe in %s: %w", dir, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
