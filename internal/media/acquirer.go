package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/partnerly/callmesh/lib/logger/sl"
)

var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrDeviceNotFound   = errors.New("media: device not found")
	ErrDeviceBusy       = errors.New("media: device busy")
	ErrUnsupported      = errors.New("media: capture not supported")
)

// CaptureDevice is the platform capture stack behind the acquirer.
// Read calls block until a frame is available or ctx is done.
type CaptureDevice interface {
	Open(ctx context.Context) error
	ReadAudio(ctx context.Context) (media.Sample, error)
	ReadVideo(ctx context.Context) (media.Sample, error)
	Close() error
}

// Acquirer owns the local capture for one session. Acquire is idempotent
// while a stream is held; Release must run on call end and before any
// re-acquisition.
type Acquirer struct {
	device CaptureDevice
	log    *slog.Logger

	mu     sync.Mutex
	stream *Stream
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAcquirer(device CaptureDevice, log *slog.Logger) *Acquirer {
	if log == nil {
		log = slog.Default()
	}
	return &Acquirer{device: device, log: log}
}

func (a *Acquirer) Acquire(ctx context.Context) (*Stream, error) {
	const op = "media.acquire"

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream != nil {
		return a.stream, nil
	}

	if err := a.device.Open(ctx); err != nil {
		classified := Classify(err)
		a.log.Error("capture open failed", slog.String("op", op), sl.Err(classified))
		return nil, classified
	}

	streamID := uuid.New().String()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		a.device.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", streamID,
	)
	if err != nil {
		a.device.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}

	stream := newStream(audio, video)

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go a.pump(pumpCtx, stream, done)

	a.stream = stream
	a.cancel = cancel
	a.done = done

	a.log.Info("local media acquired", slog.String("op", op), slog.String("stream_id", streamID))
	return stream, nil
}

// Stream returns the held capture, or nil when none is acquired.
func (a *Acquirer) Stream() *Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream
}

// Release stops the capture pump, closes every tap and the device.
// Safe to call when nothing is acquired.
func (a *Acquirer) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream == nil {
		return
	}

	a.cancel()
	<-a.done

	a.stream.closeTaps()
	if err := a.device.Close(); err != nil {
		a.log.Warn("capture close failed", sl.Err(err))
	}

	a.stream = nil
	a.cancel = nil
	a.done = nil

	a.log.Info("local media released")
}

func (a *Acquirer) pump(ctx context.Context, stream *Stream, done chan struct{}) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			sample, err := a.device.ReadAudio(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
					a.log.Warn("audio capture stopped", sl.Err(err))
				}
				return
			}
			if !stream.MicEnabled() {
				continue
			}
			if err := stream.audio.WriteSample(sample); err != nil {
				a.log.Warn("audio track write failed", sl.Err(err))
			}
			stream.forwardAudio(Chunk{Data: sample.Data, At: time.Now()})
		}
	}()

	go func() {
		defer wg.Done()
		for {
			sample, err := a.device.ReadVideo(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
					a.log.Warn("video capture stopped", sl.Err(err))
				}
				return
			}
			if !stream.VideoEnabled() {
				continue
			}
			if err := stream.video.WriteSample(sample); err != nil {
				a.log.Warn("video track write failed", sl.Err(err))
			}
		}
	}()

	wg.Wait()
	close(done)
}

// Classify maps a device error onto the recoverable taxonomy the UI
// understands. Unknown causes land in ErrUnsupported.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrDeviceBusy),
		errors.Is(err, ErrUnsupported):
		return err
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
}
