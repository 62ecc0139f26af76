package frames

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegOptions locates the external tools. Empty paths use $PATH.
type FFmpegOptions struct {
	FFmpeg  string
	FFprobe string
}

// FFmpegDecoder decodes any container ffmpeg understands by streaming raw rgb24
// frames from a child process.
type FFmpegDecoder struct {
	cmd  *exec.Cmd
	out  io.ReadCloser
	r    *bufio.Reader
	info VideoInfo
	buf  []byte
}

type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		AvgRate    string `json:"avg_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
}

// Probe reads the first video stream's geometry and rate with ffprobe.
func Probe(ctx context.Context, path string, opt FFmpegOptions) (VideoInfo, error) {
	bin := opt.FFprobe
	if bin == "" {
		bin = "ffprobe"
	}
	raw, err := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames",
		"-of", "json",
		path,
	).Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(raw)
}

func parseProbe(raw []byte) (VideoInfo, error) {
	var p probeOutput
	if err := json.Unmarshal(raw, &p); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe: %w", err)
	}
	if len(p.Streams) == 0 {
		return VideoInfo{}, errors.New("ffprobe: no video stream")
	}
	s := p.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("ffprobe: bad dimensions %dx%d", s.Width, s.Height)
	}
	rate := parseRational(s.AvgRate)
	if rate <= 0 {
		rate = parseRational(s.RFrameRate)
	}
	if rate <= 0 {
		return VideoInfo{}, errors.New("ffprobe: unknown frame rate")
	}
	n, _ := strconv.Atoi(s.NbFrames)
	return VideoInfo{Width: s.Width, Height: s.Height, FrameRate: rate, FrameCount: n}, nil
}

// parseRational parses "30000/1001" or "25".
func parseRational(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// OpenFFmpeg probes path and starts the decoding process. The process is tied
// to ctx; Close stops it.
func OpenFFmpeg(ctx context.Context, path string, opt FFmpegOptions) (*FFmpegDecoder, error) {
	info, err := Probe(ctx, path, opt)
	if err != nil {
		return nil, err
	}
	bin := opt.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	return &FFmpegDecoder{
		cmd:  cmd,
		out:  out,
		r:    bufio.NewReaderSize(out, 1<<20),
		info: info,
		buf:  make([]byte, info.Width*info.Height*3),
	}, nil
}

func (d *FFmpegDecoder) Info() VideoInfo { return d.info }

func (d *FFmpegDecoder) NextFrame() (image.Image, error) {
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("ffmpeg: short frame: %w", err)
	}
	return rgb24ToImage(d.buf, d.info.Width, d.info.Height), nil
}

func rgb24ToImage(buf []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(buf) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

func (d *FFmpegDecoder) Close() error {
	_ = d.out.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	return nil
}
