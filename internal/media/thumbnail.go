package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"time"

	"github.com/disintegration/imaging"

	// Decoders for the frame formats ffmpeg and callers hand us.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	thumbnailMaxWidth  = 320
	thumbnailMaxHeight = 320
	thumbnailQuality   = 85

	// defaultCaptureAt skips past the usual black or fade-in first frame.
	defaultCaptureAt = time.Second
)

// FrameExtractor pulls a single still frame out of a video payload.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, data []byte, at time.Duration) (image.Image, error)
}

// FFmpegExtractor shells out to ffmpeg for frame extraction. Decoding
// arbitrary containers in-process is not worth the dependency weight;
// ffmpeg is assumed present on hosts that queue video.
type FFmpegExtractor struct {
	// Binary overrides the ffmpeg executable path. Empty means $PATH lookup.
	Binary string
}

// ExtractFrame writes the payload to a temp file, seeks to the capture
// point and decodes one mjpeg frame from ffmpeg's stdout.
func (e *FFmpegExtractor) ExtractFrame(ctx context.Context, data []byte, at time.Duration) (image.Image, error) {
	bin := e.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	tmp, err := os.CreateTemp("", "upload-*.video")
	if err != nil {
		return nil, fmt.Errorf("failed to stage video for frame extraction: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to stage video for frame extraction: %w", err)
	}
	tmp.Close()

	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-ss", fmt.Sprintf("%.3f", at.Seconds()),
		"-i", tmp.Name(),
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %w: %s", err, stderr.String())
	}

	img, _, err := image.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode extracted frame: %w", err)
	}
	return img, nil
}

// Thumbnailer derives bounded-size jpeg thumbnails from video payloads.
type Thumbnailer struct {
	extractor FrameExtractor
	maxWidth  int
	maxHeight int
	captureAt time.Duration
}

// NewThumbnailer creates a Thumbnailer with the standard 320x320 bound.
func NewThumbnailer(extractor FrameExtractor) *Thumbnailer {
	return &Thumbnailer{
		extractor: extractor,
		maxWidth:  thumbnailMaxWidth,
		maxHeight: thumbnailMaxHeight,
		captureAt: defaultCaptureAt,
	}
}

// Generate extracts a frame, scales it down preserving aspect ratio and
// returns it jpeg-encoded. Frames already inside the bound pass through
// unscaled.
func (t *Thumbnailer) Generate(ctx context.Context, video []byte) ([]byte, error) {
	frame, err := t.extractor.ExtractFrame(ctx, video, t.captureAt)
	if err != nil {
		return nil, err
	}

	thumb := imaging.Fit(frame, t.maxWidth, t.maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
