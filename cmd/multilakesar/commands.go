package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	multilakesar "github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR"
	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/log"
)

func newAnalyzeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Print statistics and the water estimate of a scene",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scene, res, err := o.run(cmd, false)
			if err != nil {
				return err
			}
			defer scene.Close()
			fmt.Fprintln(cmd.OutOrStdout(), renderReport(scene, res))
			return res.ClassifyErr
		},
	}
}

func newRenderCmd(o *options) *cobra.Command {
	var out, tileDir string
	var zoom, tileSize int
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the primary band as a grayscale PNG, or as map tiles with the tiled decoder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scene, res, err := o.run(cmd, false)
			if err != nil {
				return err
			}
			defer scene.Close()

			if tileDir != "" {
				return writeTiles(cmd.Context(), scene, res.Range, tileDir, maptile.Zoom(zoom), tileSize)
			}
			if res.GrayErr != nil {
				return res.GrayErr
			}
			if res.Gray == nil {
				return fmt.Errorf("tiled rasters render per tile, use --tiles")
			}
			if err := writePNG(out, res.Gray); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("wrote %s (%dx%d, range %.2f..%.2f)",
				out, res.Gray.Width, res.Gray.Height, res.Range.Low, res.Range.High)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "gray.png", "output PNG")
	cmd.Flags().StringVar(&tileDir, "tiles", "", "write z/x/y.png map tiles into this directory")
	cmd.Flags().IntVar(&zoom, "zoom", 10, "tile zoom level")
	cmd.Flags().IntVar(&tileSize, "tile-size", 256, "tile size in pixels")
	return cmd
}

func newCompositeCmd(o *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "composite",
		Short: "Render the VV/VH false-color composite as a PNG",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scene, res, err := o.run(cmd, true)
			if err != nil {
				return err
			}
			defer scene.Close()
			if res.CompositeErr != nil {
				return res.CompositeErr
			}
			if err := writePNG(out, res.Composite); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("wrote %s (%dx%d)",
				out, res.Composite.Width, res.Composite.Height)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "composite.png", "output PNG")
	return cmd
}

// run loads the scene and runs one request through the pipeline.
func (o *options) run(cmd *cobra.Command, composite bool) (*multilakesar.Scene, *multilakesar.Result, error) {
	c, err := o.config(cmd)
	if err != nil {
		return nil, nil, err
	}
	req, err := c.Request()
	if err != nil {
		return nil, nil, err
	}
	req.Composite = req.Composite || composite

	ctx := cmd.Context()
	scene, err := o.loadScene(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	p := multilakesar.NewPipeline(c.Rasterizer())
	_, results := p.Submit(ctx, scene, req)
	var res *multilakesar.Result
	if err := p.Apply(<-results, func(r *multilakesar.Result) { res = r }); err != nil {
		scene.Close()
		return nil, nil, err
	}
	if res.CancelErr != nil {
		scene.Close()
		return nil, nil, res.CancelErr
	}
	log.Debug("request finished", zap.Stringer("id", res.ID), zap.Duration("elapsed", res.Elapsed))
	return scene, res, nil
}

func writePNG(path string, bm *multilakesar.Bitmap) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return bm.EncodePNG(f)
}

func writeTiles(ctx context.Context, scene *multilakesar.Scene, rng multilakesar.VisualizationRange, dir string, z maptile.Zoom, size int) error {
	primary := scene.Primary()
	if primary == nil || primary.Tiles == nil {
		return fmt.Errorf("map tiles need --decoder tiled")
	}
	tiles, err := primary.Tiles.Covering(z)
	if err != nil {
		return err
	}

	rz := &multilakesar.Rasterizer{}
	for _, t := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		bm, err := scene.RenderTile(ctx, rz, t, size, rng)
		if err != nil {
			return err
		}
		if bm.Transparent() {
			continue
		}
		tileDir := filepath.Join(dir, strconv.Itoa(int(t.Z)), strconv.Itoa(int(t.X)))
		if err := os.MkdirAll(tileDir, 0o755); err != nil {
			return err
		}
		if err := writePNG(filepath.Join(tileDir, strconv.Itoa(int(t.Y))+".png"), bm); err != nil {
			return err
		}
	}
	log.Info("tiles written", zap.String("dir", dir), zap.Int("zoom", int(z)), zap.Int("tiles", len(tiles)))
	return nil
}

func renderReport(scene *multilakesar.Scene, res *multilakesar.Result) string {
	var b strings.Builder
	primary := "VV"
	if scene.VV == nil {
		primary = "VH"
	}
	meta := scene.Primary().Meta
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  %dx%d  %s", primary, meta.Width, meta.Height, meta.CRS)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("pixel %.1f m, preset %s, range %.2f..%.2f",
		meta.PixelSizeMeters, res.Request.Preset, res.Range.Low, res.Range.High)))
	b.WriteString("\n\n")

	for _, line := range res.Stats.Summary() {
		b.WriteString(line + "\n")
	}
	if res.Classification != nil {
		b.WriteString("\n")
		for _, line := range res.Classification.Summary() {
			b.WriteString(valueStyle.Render(line) + "\n")
		}
	}
	if dates := scene.Sidecar.Dates(); len(dates) > 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf("acquisitions: %s .. %s (%d)", dates[0], dates[len(dates)-1], len(dates))))
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
