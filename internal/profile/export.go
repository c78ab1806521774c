package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// exportSuffix is appended to exported profile file names.
const exportSuffix = ".profile.json"

// ExportFile writes the profile as a JSON document into dir, named from
// the profile's display name, and returns the file path.
func (a *Adapter) ExportFile(p *core.Profile, dir string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("nil profile")
	}
	path := filepath.Join(dir, ExportFileName(p.Name))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := Export(p, f); err != nil {
		return "", err
	}
	a.logger.Info("exported profile", "id", p.ID, "path", path)
	return path, nil
}

// Export writes the profile's JSON document to w.
func Export(p *core.Profile, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode profile export: %w", err)
	}
	return nil
}

// Import parses a profile document from r and re-creates or overwrites
// the entry through the adapter. The imported profile keeps its id when
// present so repeated imports overwrite rather than duplicate.
func (a *Adapter) Import(ctx context.Context, r io.Reader) (*core.Profile, error) {
	var p core.Profile
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("parse profile import: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("imported profile has no name")
	}
	if _, err := a.Save(ctx, &p); err != nil {
		return nil, fmt.Errorf("import profile %q: %w", p.Name, err)
	}
	return &p, nil
}

// ExportFileName derives a filesystem-safe file name from a display
// name. Path separators and control characters are replaced, spaces
// collapse to underscores. Shared by file exports and the HTTP
// download's attachment name.
func ExportFileName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '/' || r == '\\' || r == ':' || unicode.IsControl(r):
			b.WriteRune('-')
		case unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "profile" + exportSuffix
	}
	return b.String() + exportSuffix
}
