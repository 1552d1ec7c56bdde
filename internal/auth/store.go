package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"fb_downloader/internal/domain"
)

// LoadToken reads a Credential saved by SaveToken. A missing, unreadable or
// malformed file is reported as absent rather than as an error: the caller
// always falls back to a fresh authentication.
func LoadToken(path string) (domain.Credential, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Credential{}, false
	}

	var cred domain.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return domain.Credential{}, false
	}
	if cred.AccessToken == "" {
		return domain.Credential{}, false
	}

	return cred, true
}

// SaveToken persists cred to path by writing a sibling temp file and
// renaming it into place, so an interrupted write never clobbers the
// previous token.
func SaveToken(path string, cred domain.Credential) (err error) {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename token file: %w", err)
	}

	return nil
}
