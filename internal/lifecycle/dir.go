package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/thin-edge/tedge-mapper-core/internal/config"
)

// Layout describes what a mapper's directory actually contains, decided
// once at startup.
type Layout struct {
	Dir           string
	HasTedgeTOML  bool
	HasBridgeDir  bool
	HasFlowsDir   bool
	TedgeTOML     map[string]interface{}
}

// ScanLayout inspects dir for tedge.toml, bridge/ and flows/, parsing
// tedge.toml when present. A bridge/ directory without a sibling
// tedge.toml is a fatal configuration error, since bridge rules need the
// connection table tedge.toml provides for ${mapper.*}/${connection.*}
// interpolation.
func ScanLayout(dir string) (*Layout, error) {
	layout := &Layout{Dir: dir}

	tedgeTOMLPath := filepath.Join(dir, "tedge.toml")
	if _, err := os.Stat(tedgeTOMLPath); err == nil {
		layout.HasTedgeTOML = true
		parsed, err := config.LoadTOML[map[string]interface{}](tedgeTOMLPath)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: parse %s: %w", tedgeTOMLPath, err)
		}
		layout.TedgeTOML = parsed
	}

	if info, err := os.Stat(filepath.Join(dir, "bridge")); err == nil && info.IsDir() {
		layout.HasBridgeDir = true
	}
	if info, err := os.Stat(filepath.Join(dir, "flows")); err == nil && info.IsDir() {
		layout.HasFlowsDir = true
	}

	if layout.HasBridgeDir && !layout.HasTedgeTOML {
		return nil, fmt.Errorf("lifecycle: %s has a bridge/ directory but no tedge.toml", dir)
	}

	return layout, nil
}

// ScanMappersRoot lists the names of every directory directly under
// MappersRoot(), for Classify; plain files are skipped.
func ScanMappersRoot() ([]string, error) {
	entries, err := os.ReadDir(mappersRoot)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: read %s: %w", mappersRoot, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
