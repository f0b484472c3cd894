// Package stackwalk walks recorded stack images: it decodes a serialized
// image, drives the frame iterator over it in the mode the image was
// captured for, and returns the ordered frames together with a stable
// stack hash for deduplication. The walking core lives in the internal
// packages; this package is the boundary crash reporters and trace
// tooling program against.
package stackwalk

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/highwayhash"
	"golang.org/x/sync/errgroup"

	"github.com/ferrovm/stackwalk-go/internal/tracepb"
	"github.com/ferrovm/stackwalk-go/internal/walkimage"
)

var hashKey = [32]byte{}

// Frame is one logical call frame of a capture.
type Frame struct {
	ControlPC    uint64
	FramePointer uint64
	Method       string
	CodeOffset   uint32
	// ExceptionallyInvoked marks frames entered by exception dispatch
	// rather than an ordinary call.
	ExceptionallyInvoked bool
	// ConservativeLo and ConservativeHi bound the stack range to scan
	// conservatively for this frame, or are both zero.
	ConservativeLo uint64
	ConservativeHi uint64
}

// Capture is the result of walking one image.
type Capture struct {
	ID         uuid.UUID
	CapturedAt time.Time
	// StackHash fingerprints the frame sequence: two captures of the same
	// logical stack hash alike regardless of when they were taken.
	StackHash uint64
	Frames    []Frame
}

// CaptureImage decodes and walks one serialized stack image.
func CaptureImage(data []byte, opts ...Option) (c *Capture, err error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	img := new(tracepb.StackImage)
	if err := img.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return captureImage(img, &cfg)
}

// CaptureStackImage walks an already-decoded image message.
func CaptureStackImage(img *tracepb.StackImage, opts ...Option) (*Capture, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return captureImage(img, &cfg)
}

func captureImage(img *tracepb.StackImage, cfg *config) (c *Capture, err error) {
	// A malformed image trips the walker's consistency checks, which halt
	// by design when walking a live thread. A recorded image is untrusted
	// input; surface the violation as an error instead.
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("walk aborted: %v", r)
		}
	}()

	decoded, err := walkimage.Decode(img)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	it, ok, err := decoded.NewIterator()
	if err != nil {
		return nil, err
	}

	res := &Capture{
		ID:         uuid.New(),
		CapturedAt: time.Now().UTC(),
	}
	hasher, err := highwayhash.New64(hashKey[:])
	if err != nil {
		return nil, fmt.Errorf("creating hasher: %w", err)
	}
	var pcBuf [8]byte
	for ok && it.IsValid() {
		f := Frame{
			ControlPC:            uint64(it.ControlPC()),
			FramePointer:         uint64(it.FramePointer()),
			Method:               it.MethodInfo().Name,
			CodeOffset:           it.CodeOffset(),
			ExceptionallyInvoked: it.ExceptionallyInvoked(),
		}
		if lo, hi, ok := it.StackRangeToReportConservatively(); ok {
			f.ConservativeLo = uint64(lo)
			f.ConservativeHi = uint64(hi)
		}
		res.Frames = append(res.Frames, f)
		binary.LittleEndian.PutUint64(pcBuf[:], f.ControlPC)
		hasher.Write(pcBuf[:])
		if len(res.Frames) >= cfg.maxFrames {
			cfg.log.Warn("frame budget reached, truncating capture",
				"frames", len(res.Frames))
			break
		}
		it.Next()
	}
	res.StackHash = hasher.Sum64()
	cfg.log.Debug("captured stack",
		"id", res.ID, "frames", len(res.Frames), "hash", fmt.Sprintf("%016x", res.StackHash))
	return res, nil
}

// CaptureAll walks a batch of images concurrently, preserving order. The
// first failure cancels the remaining walks.
func CaptureAll(ctx context.Context, images [][]byte, opts ...Option) ([]*Capture, error) {
	g, ctx := errgroup.WithContext(ctx)
	out := make([]*Capture, len(images))
	for i, data := range images {
		i, data := i, data
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := CaptureImage(data, opts...)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
