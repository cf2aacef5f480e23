package multilakesar

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/geotiff"
)

// Scene groups the polarizations of one acquisition. Primary is the band
// used for statistics and classification: VV when present, VH otherwise.
type Scene struct {
	VV      *Raster
	VH      *Raster
	Sidecar *Sidecar
}

// SceneSources names the rasters of a scene. Either may be nil.
type SceneSources struct {
	VV *Source
	VH *Source
}

// Primary returns the analysis band, preferring VV.
func (s *Scene) Primary() *Raster {
	if s.VV != nil {
		return s.VV
	}
	return s.VH
}

// CanComposite reports whether both polarizations share one grid.
func (s *Scene) CanComposite() bool {
	return s.VV != nil && s.VH != nil &&
		s.VV.Meta.Width == s.VH.Meta.Width && s.VV.Meta.Height == s.VH.Meta.Height
}

// Close releases tile sources held by the scene.
func (s *Scene) Close() error {
	return multierr.Combine(s.VV.Close(), s.VH.Close())
}

// LoadScene decodes the given polarizations concurrently.
func (a *Adapter) LoadScene(ctx context.Context, srcs SceneSources, sidecar *Sidecar) (*Scene, error) {
	if srcs.VV == nil && srcs.VH == nil {
		return nil, fmt.Errorf("scene needs a VV or VH raster")
	}

	scene := &Scene{Sidecar: sidecar}
	var vvErr, vhErr error
	var g errgroup.Group
	if srcs.VV != nil {
		g.Go(func() error {
			scene.VV, vvErr = a.Load(ctx, *srcs.VV, sidecar)
			return nil
		})
	}
	if srcs.VH != nil {
		g.Go(func() error {
			scene.VH, vhErr = a.Load(ctx, *srcs.VH, sidecar)
			return nil
		})
	}
	g.Wait()

	if err := multierr.Append(wrapPol("VV", vvErr), wrapPol("VH", vhErr)); err != nil {
		scene.Close()
		return nil, err
	}
	return scene, nil
}

func wrapPol(pol string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", pol, err)
}

// RenderTile renders one display tile of the primary raster. The raster must
// have been loaded by a tiled decoder.
func (s *Scene) RenderTile(ctx context.Context, rz *Rasterizer, t maptile.Tile, size int, rng VisualizationRange) (*Bitmap, error) {
	primary := s.Primary()
	if primary == nil || primary.Tiles == nil {
		return nil, fmt.Errorf("scene has no tile source")
	}
	if size <= 0 {
		size = geotiff.DefaultTileSize
	}
	data, bound, err := primary.Tiles.Tile(ctx, t, size)
	if err != nil {
		return nil, &DecodeError{Source: fmt.Sprintf("tile %d/%d/%d", t.Z, t.X, t.Y), Err: err}
	}
	bm, err := rz.RenderTile(data, size, rng)
	if err != nil {
		return nil, err
	}
	bm.Bounds = &bound
	return bm, nil
}
