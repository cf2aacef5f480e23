package multilakesar

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Jefry-Erick/NASA-spaceapp2025-MultiLakeSAR/log"
)

// Request is one analysis and render request. Unset explicit bounds are NaN.
type Request struct {
	Preset             Preset
	ExplicitLow        float64
	ExplicitHigh       float64
	MaxSamples         int
	MaxRenderDimension int
	Composite          bool // also render the VV/VH composite
}

// NewRequest returns a request for preset without explicit bounds.
func NewRequest(preset Preset) Request {
	return Request{Preset: preset, ExplicitLow: math.NaN(), ExplicitHigh: math.NaN()}
}

// Result holds the outputs of one request. Each component reports its own
// error so that partial results stay usable.
type Result struct {
	ID         uuid.UUID
	Generation uint64
	Request    Request
	Elapsed    time.Duration

	Stats          *Statistics
	Range          VisualizationRange
	Classification *ClassificationResult
	Gray           *Bitmap // nil for tiled scenes, which render per tile
	Composite      *Bitmap

	ClassifyErr  error
	GrayErr      error
	CompositeErr error
	CancelErr    error // set when a newer request cancelled this one
}

// Err combines all component errors.
func (r *Result) Err() error {
	return multierr.Combine(r.CancelErr, r.ClassifyErr, r.GrayErr, r.CompositeErr)
}

// NoData returns ErrNoData when the analysed band held no valid sample.
func (r *Result) NoData() error {
	if r.Stats == nil || !r.Stats.HasData() {
		return ErrNoData
	}
	return nil
}

// Pipeline runs requests off the caller's goroutine. Every Submit starts a
// new generation and cancels the previous one; Apply only ever delivers the
// latest generation, once.
type Pipeline struct {
	rasterizer Rasterizer
	logTag     string

	mu      sync.Mutex
	issued  uint64
	applied uint64
	cancel  context.CancelFunc
}

// NewPipeline returns a pipeline rendering with r, or the defaults when r is
// nil.
func NewPipeline(r *Rasterizer) *Pipeline {
	p := &Pipeline{logTag: "Pipeline:"}
	if r != nil {
		p.rasterizer = *r
	}
	return p
}

// Generation returns the most recently issued generation.
func (p *Pipeline) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issued
}

// Submit starts req on scene. The returned channel yields exactly one result
// and is then closed.
func (p *Pipeline) Submit(ctx context.Context, scene *Scene, req Request) (uint64, <-chan *Result) {
	p.mu.Lock()
	p.issued++
	gen := p.issued
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	out := make(chan *Result, 1)
	go func() {
		defer close(out)
		defer cancel()
		out <- p.run(ctx, gen, scene, req)
	}()
	return gen, out
}

// Apply calls fn with res if res belongs to the latest generation and no
// newer result was applied. It returns ErrSuperseded otherwise. fn runs under
// the pipeline lock and must not call back into the pipeline.
func (p *Pipeline) Apply(res *Result, fn func(*Result)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if res.Generation != p.issued || res.Generation <= p.applied {
		log.Debug(p.logTag+"discard stale result", zap.Uint64("gen", res.Generation), zap.Uint64("latest", p.issued))
		return fmt.Errorf("%w: generation %d, latest %d", ErrSuperseded, res.Generation, p.issued)
	}
	p.applied = res.Generation
	fn(res)
	return nil
}

// Run executes req synchronously without generation tracking.
func (p *Pipeline) Run(ctx context.Context, scene *Scene, req Request) *Result {
	return p.run(ctx, 0, scene, req)
}

func (p *Pipeline) run(ctx context.Context, gen uint64, scene *Scene, req Request) *Result {
	start := time.Now()
	res := &Result{ID: uuid.New(), Generation: gen, Request: req}
	defer func() { res.Elapsed = time.Since(start) }()

	primary := scene.Primary()
	if primary == nil {
		res.ClassifyErr = ErrNoData
		return res
	}
	if err := ctx.Err(); err != nil {
		res.CancelErr = fmt.Errorf("%w: %v", ErrSuperseded, err)
		return res
	}

	rz := p.rasterizer
	if req.MaxRenderDimension > 0 {
		rz.MaxDimension = req.MaxRenderDimension
	}
	if req.MaxSamples > 0 {
		rz.MaxSamples = req.MaxSamples
	}

	// The range is resolved once and shared by classification and rendering.
	res.Stats = Analyze(primary.Band, req.MaxSamples, req.Preset)
	res.Range = Resolve(req.Preset, req.ExplicitLow, req.ExplicitHigh, res.Stats)

	var g errgroup.Group
	g.Go(func() error {
		c, err := Classify(primary.Band, res.Range, primary.Meta.PixelSizeMeters, res.Stats.Step)
		if err != nil {
			res.ClassifyErr = err
			return nil
		}
		res.Classification = &c
		return nil
	})
	if primary.Tiles == nil {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			bm, err := rz.RenderGray(primary.Band, primary.Meta.Width, primary.Meta.Height, res.Range)
			if err != nil {
				res.GrayErr = err
				return nil
			}
			bm.Bounds = primary.Meta.BoundingBox
			res.Gray = bm
			return nil
		})
	}
	if req.Composite {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			bm, err := renderSceneComposite(&rz, scene)
			if err != nil {
				res.CompositeErr = err
				return nil
			}
			res.Composite = bm
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		res.CancelErr = fmt.Errorf("%w: %v", ErrSuperseded, err)
	}
	log.Debug(p.logTag+"request done", zap.Uint64("gen", gen), zap.Stringer("id", res.ID),
		zap.String("preset", req.Preset.String()), zap.Error(res.Err()))
	return res
}

func renderSceneComposite(rz *Rasterizer, scene *Scene) (*Bitmap, error) {
	if scene.VV == nil || scene.VH == nil {
		return nil, fmt.Errorf("%w: composite needs both VV and VH", ErrNoData)
	}
	if !scene.CanComposite() {
		return nil, fmt.Errorf("%w: VV %dx%d, VH %dx%d", ErrBandShapeMismatch,
			scene.VV.Meta.Width, scene.VV.Meta.Height, scene.VH.Meta.Width, scene.VH.Meta.Height)
	}
	bm, err := rz.RenderComposite(scene.VV.Band, scene.VH.Band, scene.VV.Meta.Width, scene.VV.Meta.Height)
	if err != nil {
		return nil, err
	}
	bm.Bounds = scene.VV.Meta.BoundingBox
	return bm, nil
}
