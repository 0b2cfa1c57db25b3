// Package controller runs the strength-backoff loop: perturb, blend back toward
// the original, score with SSIM, and shrink the strength until the fidelity
// target is met or the budget runs out.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/pixelcloak/internal/perturb"
	"github.com/andresmejia3/pixelcloak/internal/raster"
	"github.com/andresmejia3/pixelcloak/internal/ssim"
	"github.com/rs/zerolog"
)

const (
	// NoScore marks a Result for which no round completed.
	NoScore = -1.0

	ScaleFloor  = 0.02
	Backoff     = 0.72
	BlendWeight = 0.15

	minBlockSize = 4
	patchSize    = 8
	baseSigma    = 6.0
	baseSalt     = 0.0006
)

// Params configures one controller run.
type Params struct {
	Strength     float64
	TargetSSIM   float64
	MaxIters     int
	BlockSize    int
	PatchDensity float64
}

// Validate checks the ranges Run relies on.
func (p Params) Validate() error {
	if p.Strength <= 0 || p.Strength > 1 {
		return fmt.Errorf("strength must be in (0, 1], got %v", p.Strength)
	}
	if p.TargetSSIM <= 0 || p.TargetSSIM > 1 {
		return fmt.Errorf("target_ssim must be in (0, 1], got %v", p.TargetSSIM)
	}
	if p.MaxIters < 1 {
		return fmt.Errorf("max_iters must be >= 1, got %d", p.MaxIters)
	}
	if p.BlockSize < 1 {
		return fmt.Errorf("block_size must be >= 1, got %d", p.BlockSize)
	}
	if p.PatchDensity < 0 {
		return fmt.Errorf("patch_density must be >= 0, got %v", p.PatchDensity)
	}
	return nil
}

// Result is the best candidate found. It is never modified after Run returns.
type Result struct {
	Image     *raster.Image
	SSIM      float64
	Rounds    int
	Cancelled bool
	// Scores holds the SSIM of every completed round, in order.
	Scores []float64
}

// Controller owns the randomness and SSIM evaluator shared by its runs.
type Controller struct {
	rng  perturb.Source
	eval *ssim.Evaluator
}

func New(rng perturb.Source, eval *ssim.Evaluator) *Controller {
	return &Controller{rng: rng, eval: eval}
}

// Run perturbs orig under the saliency mask and returns the highest scoring
// candidate. The returned SSIM is the maximum over all completed rounds.
func (c *Controller) Run(ctx context.Context, orig *raster.Image, mask *raster.Mask, p Params) (Result, error) {
	if mask != nil && (mask.W != orig.W || mask.H != orig.H) {
		return Result{}, fmt.Errorf("mask is %dx%d, image is %dx%d", mask.W, mask.H, orig.W, orig.H)
	}
	log := zerolog.Ctx(ctx)

	if p.Strength <= ScaleFloor {
		log.Debug().Float64("strength", p.Strength).Msg("strength at floor, skipping perturbation")
		return Result{Image: orig.Clone(), SSIM: 1}, nil
	}

	origGray := orig.Gray()
	best := Result{Image: orig.Clone(), SSIM: NoScore}
	scale := p.Strength

	for round := 1; round <= p.MaxIters; round++ {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()

		cand := c.perturbOnce(ctx, orig, mask, scale, p)
		if ctx.Err() != nil {
			// A round cut short is never scored.
			break
		}

		score, err := c.eval.Index(origGray, cand.Gray())
		if err != nil {
			return best, fmt.Errorf("scoring round %d: %w", round, err)
		}
		best.Rounds = round
		best.Scores = append(best.Scores, score)
		if score > best.SSIM {
			best.SSIM = score
			best.Image = cand
		}

		log.Debug().
			Int("round", round).
			Float64("scale", scale).
			Float64("ssim", score).
			Float64("best", best.SSIM).
			Dur("took", time.Since(start)).
			Msg("perturbation round")

		if score >= p.TargetSSIM || scale <= ScaleFloor {
			break
		}
		scale *= Backoff
	}

	best.Cancelled = ctx.Err() != nil
	return best, nil
}

func (c *Controller) perturbOnce(ctx context.Context, orig *raster.Image, mask *raster.Mask, scale float64, p Params) *raster.Image {
	layer := perturb.BlockShuffle(ctx, c.rng, orig, max(minBlockSize, p.BlockSize), 0.25+0.5*scale, mask)
	layer = perturb.OverlayPatches(ctx, c.rng, layer, patchSize, p.PatchDensity*(1+scale), 0.35+0.7*scale, mask)
	layer = perturb.AddNoise(ctx, c.rng, layer, baseSigma*scale, baseSalt*(1+scale))

	keep := 1 - BlendWeight*scale
	mix := BlendWeight * scale
	mixed := raster.New(orig.W, orig.H)
	for i := range mixed.Pix {
		mixed.Pix[i] = raster.Clamp(keep*orig.Pix[i] + mix*layer.Pix[i])
	}

	return perturb.JitterHSV(ctx, c.rng, mixed, scale)
}
