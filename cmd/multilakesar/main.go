// Command multilakesar analyses SAR backscatter rasters: statistics, water
// classification and PNG overlays.
//
// Usage:
//
//	multilakesar analyze --vv vv.tif --vh vh.tif --sidecar scenes.csv
//	multilakesar render --vv https://example.com/vv_cog.tif --preset db -o vv.png
//	multilakesar render --vv vv_cog.tif --decoder tiled --zoom 12 --tiles out/
//	multilakesar composite --vv vv.tif --vh vh.tif -o composite.png
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	multilakesar "github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR"
	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/log"
)

type options struct {
	configPath  string
	preset      string
	low, high   float64
	maxSamples  int
	maxDim      int
	decoder     string
	workers     int
	logLevel    string
	sidecarPath string
	vv, vh      string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "multilakesar",
		Short:         "SAR backscatter statistics, water classification and overlays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&o.preset, "preset", "", "visualization preset (auto, db, p98, explicit)")
	f.Float64Var(&o.low, "low", math.NaN(), "explicit low bound of the visualization range")
	f.Float64Var(&o.high, "high", math.NaN(), "explicit high bound of the visualization range")
	f.IntVar(&o.maxSamples, "max-samples", 0, "statistics sampling budget")
	f.IntVar(&o.maxDim, "max-dim", 0, "longest side of rendered bitmaps")
	f.StringVar(&o.decoder, "decoder", "", "raster decoder (full, tiled)")
	f.IntVar(&o.workers, "workers", 0, "render workers (0 = GOMAXPROCS)")
	f.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&o.sidecarPath, "sidecar", "", "CSV metadata sidecar")
	f.StringVar(&o.vv, "vv", "", "VV raster path or URL")
	f.StringVar(&o.vh, "vh", "", "VH raster path or URL")

	root.AddCommand(newAnalyzeCmd(o), newRenderCmd(o), newCompositeCmd(o))
	return root
}

// config loads the configuration file and applies the flags the user set.
func (o *options) config(cmd *cobra.Command) (multilakesar.Config, error) {
	c := multilakesar.DefaultConfig()
	if o.configPath != "" {
		var err error
		if c, err = multilakesar.LoadConfig(o.configPath); err != nil {
			return c, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("preset") {
		c.Preset = o.preset
	}
	if flags.Changed("low") || flags.Changed("high") {
		low, high := math.NaN(), math.NaN()
		if c.ExplicitLow != nil {
			low = *c.ExplicitLow
		}
		if c.ExplicitHigh != nil {
			high = *c.ExplicitHigh
		}
		if flags.Changed("low") {
			low = o.low
		}
		if flags.Changed("high") {
			high = o.high
		}
		c.SetExplicit(low, high)
	}
	if flags.Changed("max-samples") {
		c.MaxSamples = o.maxSamples
	}
	if flags.Changed("max-dim") {
		c.MaxRenderDimension = o.maxDim
	}
	if flags.Changed("decoder") {
		c.Decoder = o.decoder
	}
	if flags.Changed("workers") {
		c.Workers = o.workers
	}
	if flags.Changed("log-level") {
		c.LogLevel = o.logLevel
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	if err := log.SetLevel(c.LogLevel); err != nil {
		return c, err
	}
	return c, nil
}

// loadScene reads the sidecar and the VV/VH rasters named by the flags.
func (o *options) loadScene(ctx context.Context, c multilakesar.Config) (*multilakesar.Scene, error) {
	var sidecar *multilakesar.Sidecar
	if o.sidecarPath != "" {
		s, err := multilakesar.LoadSidecar(o.sidecarPath)
		if err != nil {
			return nil, err
		}
		if schema, err := s.Validate(); err != nil {
			log.Warn("sidecar does not match a known schema", zap.String("path", o.sidecarPath), zap.Error(err))
		} else {
			log.Debug("sidecar loaded", zap.String("schema", schema), zap.Int("rows", len(s.Rows)))
		}
		sidecar = s
	}

	var srcs multilakesar.SceneSources
	if o.vv != "" {
		src := multilakesar.SourceFromString(o.vv)
		srcs.VV = &src
	}
	if o.vh != "" {
		src := multilakesar.SourceFromString(o.vh)
		srcs.VH = &src
	}
	if srcs.VV == nil && srcs.VH == nil {
		return nil, fmt.Errorf("at least one of --vv and --vh is required")
	}

	adapter, err := c.NewAdapter()
	if err != nil {
		return nil, err
	}
	return adapter.LoadScene(ctx, srcs, sidecar)
}
