package decoder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

const (
	// rgbaBytesPerPixel matches the rawvideo output the video decoder requests
	rgbaBytesPerPixel = 4
	// defaultFrameRate is used when ffprobe cannot report one
	defaultFrameRate = 25.0
)

// probeStream is the subset of an ffprobe stream entry the engine needs
type probeStream struct {
	CodecType    string `json:"codec_type"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

// probeArgs builds the ffprobe invocation for a location
func probeArgs(location string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		location,
	}
}

// parseProbe turns ffprobe JSON into Media, keeping only the wanted streams
func parseProbe(location string, data []byte, opts ProbeOptions, available []types.HardwareAcceleration) (types.Media, error) {
	var result probeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return types.Media{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	media := types.Media{
		ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(location)).String(),
		Location: location,
		Duration: parseSeconds(result.Format.Duration),
	}

	if opts.WantAudio {
		if s, ok := lo.Find(result.Streams, func(s probeStream) bool { return s.CodecType == "audio" }); ok {
			rate, err := strconv.Atoi(s.SampleRate)
			if err != nil || rate <= 0 || s.Channels <= 0 {
				return types.Media{}, fmt.Errorf("unusable audio stream %q/%d channels", s.SampleRate, s.Channels)
			}
			media.Audio = mo.Some(types.AudioFormat{SampleRate: rate, Channels: s.Channels})
			if media.Duration == 0 {
				media.Duration = parseSeconds(s.Duration)
			}
		}
	}

	if opts.WantVideo {
		if s, ok := lo.Find(result.Streams, func(s probeStream) bool { return s.CodecType == "video" }); ok {
			fps := parseFrameRate(s.AvgFrameRate)
			if fps <= 0 {
				fps = parseFrameRate(s.RFrameRate)
			}
			if fps <= 0 {
				fps = defaultFrameRate
			}
			media.Video = mo.Some(types.VideoFormat{
				Width:                s.Width,
				Height:               s.Height,
				FrameRate:            fps,
				HardwareAcceleration: selectHardwareAcceleration(opts.HardwareAccelerationCandidates, available),
				BufferCapacity:       s.Width * s.Height * rgbaBytesPerPixel,
			})
			if media.Duration == 0 {
				media.Duration = parseSeconds(s.Duration)
			}
		}
	}

	if err := media.Validate(); err != nil {
		return types.Media{}, fmt.Errorf("%s: %w", location, err)
	}
	return media, nil
}

// parseSeconds parses a decimal seconds string, returning 0 when absent
func parseSeconds(s string) time.Duration {
	if s == "" || s == "N/A" {
		return 0
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil || sec < 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

// parseFrameRate parses ffprobe rationals like "30000/1001"
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
