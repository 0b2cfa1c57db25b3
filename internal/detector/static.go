package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/andresmejia3/pixelcloak/internal/types"
)

// Static returns a fixed list of boxes, loaded from a JSON file of
// {"left","top","right","bottom"} objects.
type Static struct {
	Boxes []types.FaceBox
}

func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read boxes file: %w", err)
	}
	var boxes []types.FaceBox
	if err := json.Unmarshal(data, &boxes); err != nil {
		return nil, fmt.Errorf("failed to parse boxes file %s: %w", path, err)
	}
	return &Static{Boxes: boxes}, nil
}

func (s *Static) Name() string { return KindStatic }

func (s *Static) Detect(ctx context.Context, img *raster.Image) ([]types.FaceBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap(s.Name(), err)
	}
	return slices.Clone(s.Boxes), nil
}

func (s *Static) Close() error { return nil }
