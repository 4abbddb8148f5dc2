package media

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
)

const syntheticFrame = 20 * time.Millisecond

// SyntheticDevice produces silent audio and blank video frames on the
// capture cadence. It backs headless runs and tests; real hardware
// capture plugs in behind the same CaptureDevice interface.
type SyntheticDevice struct {
	opened atomic.Bool
	audio  []byte
	video  []byte
}

func NewSyntheticDevice() *SyntheticDevice {
	return &SyntheticDevice{
		audio: make([]byte, 320),
		video: make([]byte, 1024),
	}
}

func (d *SyntheticDevice) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.opened.CompareAndSwap(false, true) {
		return ErrDeviceBusy
	}
	return nil
}

func (d *SyntheticDevice) ReadAudio(ctx context.Context) (media.Sample, error) {
	return d.read(ctx, d.audio)
}

func (d *SyntheticDevice) ReadVideo(ctx context.Context) (media.Sample, error) {
	return d.read(ctx, d.video)
}

func (d *SyntheticDevice) read(ctx context.Context, frame []byte) (media.Sample, error) {
	if !d.opened.Load() {
		return media.Sample{}, errors.New("synthetic device is not open")
	}

	select {
	case <-ctx.Done():
		return media.Sample{}, ctx.Err()
	case <-time.After(syntheticFrame):
	}

	data := make([]byte, len(frame))
	copy(data, frame)
	return media.Sample{Data: data, Duration: syntheticFrame}, nil
}

func (d *SyntheticDevice) Close() error {
	d.opened.Store(false)
	return nil
}
