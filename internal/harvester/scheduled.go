package harvester

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"harvestbot/pkg/logx"
)

// FullHarvest runs the scheduled harvest and writes the projects as
// indented JSON to <output_dir>/harvest_<YYYYMMDD_HHMMSS>.json. Whatever was
// found is written even when some topics failed; the error is still returned.
func (h *Harvester) FullHarvest(ctx context.Context) error {
	projects, searchErr := h.HarvestTrending(ctx, h.scheduled)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	path, err := h.writeLocal(projects)
	if err != nil {
		return err
	}
	h.log.Info("harvest completed",
		logx.Int("projects", len(projects)),
		logx.String("file", path),
	)
	if searchErr != nil {
		return fmt.Errorf("full harvest: %w", searchErr)
	}
	return nil
}

func (h *Harvester) writeLocal(projects []Project) (string, error) {
	if err := os.MkdirAll(h.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	b, err := json.MarshalIndent(projects, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(h.outputDir, "harvest_"+h.now().Format("20060102_150405")+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}
