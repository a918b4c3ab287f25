package vault

import (
	"fmt"
	"path"
	"strings"
)

// ValidateKey rejects archive keys that are empty, absolute, unclean or
// that climb out of the vault with "..".
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty archive key")
	}
	if path.IsAbs(key) || path.Clean(key) != key {
		return fmt.Errorf("invalid archive key: %q", key)
	}
	if key == ".." || strings.HasPrefix(key, "../") {
		return fmt.Errorf("archive key escapes the vault: %q", key)
	}
	return nil
}
