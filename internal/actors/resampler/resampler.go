// Package resampler implements the Resampler actor: the last stage
// before an array is handed back to Producer. It reorders channels
// (channel_ids, which may repeat a source channel, against
// unique_channel_ids, which never does — reordering happens here, in
// post-processing, rather than at read time) and remaps any nodata
// sentinel found in freshly-read or freshly-computed samples to the
// query's requested dst_nodata value.
package resampler

import (
	"fmt"

	"github.com/rasterflow/rasterflow/internal/actor"
	"github.com/rasterflow/rasterflow/internal/actors/reader"
)

// ChannelPlan describes how to reorder and remap a raw sample array
// before it is considered a finished production tile.
type ChannelPlan struct {
	// UniqueChannels is the channel count of the raw array as read or
	// computed.
	UniqueChannels int
	// ChannelIndices maps each output channel to a source channel in
	// [0, UniqueChannels), possibly repeating a source index more than
	// once (the "channel_ids vs unique_channel_ids" distinction).
	ChannelIndices []int
	SrcNodata      float64
	HasSrcNodata   bool
	DstNodata      float64
}

func (p ChannelPlan) outChannels() int {
	if len(p.ChannelIndices) == 0 {
		return p.UniqueChannels
	}
	return len(p.ChannelIndices)
}

// Resampler is the per-raster Resampler actor.
type Resampler struct {
	rasterUID string
	pool      string // resample pool name; empty means inline execution
	plan      ChannelPlan
}

// New creates a Resampler for rasterUID. pool records the raster
// descriptor's resample pool assignment (empty when absent);
// post-processing runs inline on the scheduler thread whether or not it
// is set.
func New(rasterUID, pool string, plan ChannelPlan) *Resampler {
	return &Resampler{rasterUID: rasterUID, pool: pool, plan: plan}
}

func (r *Resampler) producerAddr() actor.Address {
	return actor.Address{Group: actor.Raster, GroupID: r.rasterUID, Actor: "Producer"}
}

// ResampleDoneArgs is delivered to Producer once a resample tile's
// post-processing has finished (or failed).
type ResampleDoneArgs struct {
	TileKey string
	Samples []float64
	Err     error
}

// ResampleArrayArgs is sent by Producer for an already-computed (but
// uncached) array that still needs channel/nodata post-processing.
type ResampleArrayArgs struct {
	TileKey string
	Samples []float64
}

// ResampleNodataArgs is sent by Producer for a resample tile that falls
// entirely outside the raster's footprint: no read or compute is
// needed, only a nodata-filled array of the requested shape.
type ResampleNodataArgs struct {
	TileKey    string
	PixelCount int // width * height of the resample tile
}

// Receive implements actor.Actor. Valid titles: "window_read" (from
// Reader, a cache hit), "resample_array" (from Producer, an uncached
// compute result), "resample_nodata" (from Producer, outside-raster
// short-circuit).
func (r *Resampler) Receive(env actor.Envelope) ([]actor.Envelope, error) {
	switch env.Title {
	case "window_read":
		args := env.Args.(reader.WindowReadArgs)
		if args.Err != nil {
			return []actor.Envelope{r.reply(args.TileKey, nil, fmt.Errorf("resampler: reading cache tile: %w", args.Err))}, nil
		}
		return []actor.Envelope{r.reply(args.TileKey, r.postProcess(args.Samples), nil)}, nil

	case "resample_array":
		args := env.Args.(ResampleArrayArgs)
		return []actor.Envelope{r.reply(args.TileKey, r.postProcess(args.Samples), nil)}, nil

	case "resample_nodata":
		args := env.Args.(ResampleNodataArgs)
		return []actor.Envelope{r.reply(args.TileKey, r.nodataFill(args.PixelCount), nil)}, nil

	default:
		return nil, nil
	}
}

// postProcess reorders channels per r.plan.ChannelIndices and remaps any
// sample equal to SrcNodata to DstNodata. Runs inline regardless of pool
// assignment: the reordering/remap arithmetic is cheap per-pixel work,
// the expensive part (interpolation across a differently-shaped source
// grid) would run inside a pool job in a deployment with real
// geometric resampling, which this engine's built-in recipes do not
// yet need (see the raster package's Descriptor.ResamplePool seam).
func (r *Resampler) postProcess(samples []float64) []float64 {
	uc := r.plan.UniqueChannels
	if uc <= 0 {
		uc = 1
	}
	if len(r.plan.ChannelIndices) == 0 && !r.plan.HasSrcNodata {
		return samples
	}

	pixelCount := len(samples) / uc
	out := make([]float64, pixelCount*r.plan.outChannels())
	outC := r.plan.outChannels()
	for px := 0; px < pixelCount; px++ {
		for oc := 0; oc < outC; oc++ {
			srcC := oc
			if len(r.plan.ChannelIndices) > 0 {
				srcC = r.plan.ChannelIndices[oc]
			}
			v := samples[px*uc+srcC]
			if r.plan.HasSrcNodata && v == r.plan.SrcNodata {
				v = r.plan.DstNodata
			}
			out[px*outC+oc] = v
		}
	}
	return out
}

func (r *Resampler) nodataFill(pixelCount int) []float64 {
	outC := r.plan.outChannels()
	out := make([]float64, pixelCount*outC)
	for i := range out {
		out[i] = r.plan.DstNodata
	}
	return out
}

func (r *Resampler) reply(tileKey string, samples []float64, err error) actor.Envelope {
	return actor.Envelope{
		Dest:  r.producerAddr(),
		Title: "resample_done",
		Args:  ResampleDoneArgs{TileKey: tileKey, Samples: samples, Err: err},
		Kind:  actor.Basic,
	}
}
