// Package envelope persists small HTTP response records (HEAD replies and
// API bodies) as a single JSON object, grounded on
// olah/utils/cache_utils.py's write_cache_request/read_cache_request.
package envelope

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Envelope is {status_code, headers, content_hex} per spec §3.
type Envelope struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Content    string            `json:"content"` // hex-encoded, matches the Python wire format exactly
}

// New builds an Envelope, lower-casing header keys (case-insensitive
// propagation is handled by callers; storage is always lowercase).
func New(statusCode int, headers map[string]string, content []byte) Envelope {
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}
	return Envelope{
		StatusCode: statusCode,
		Headers:    lowered,
		Content:    hex.EncodeToString(content),
	}
}

// Bytes decodes the hex-encoded content back to raw bytes.
func (e Envelope) Bytes() ([]byte, error) {
	return hex.DecodeString(e.Content)
}

// Write persists the envelope atomically: write to a temp file in the
// same directory, then rename, so a reader never observes a partial
// write (spec §7, "Envelope writes are atomic-or-absent").
func Write(path string, e Envelope) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("envelope: mkdir: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("envelope: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".envelope-*.tmp")
	if err != nil {
		return fmt.Errorf("envelope: tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("envelope: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("envelope: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("envelope: rename: %w", err)
	}
	return nil
}

// Read loads an envelope. Callers tolerate os.IsNotExist and treat it as
// "absent" (spec §7: envelope writes are atomic-or-absent; so are reads).
func Read(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, err
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: unmarshal %s: %w", path, err)
	}
	return e, nil
}

// Exists reports whether an envelope file is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
