package decoder

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// Toolchain is the located ffmpeg installation
type Toolchain struct {
	FFmpeg   string
	FFprobe  string
	HWAccels []types.HardwareAcceleration
}

// Supports reports whether ffmpeg was built with the acceleration method
func (tc *Toolchain) Supports(accel types.HardwareAcceleration) bool {
	return lo.Contains(tc.HWAccels, accel)
}

var loadToolchain = sync.OnceValues(func() (*Toolchain, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Failing to list hwaccels only disables hardware decoding.
	var accels []types.HardwareAcceleration
	if out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-hwaccels").Output(); err == nil {
		accels = parseHWAccels(string(out))
	}

	return &Toolchain{
		FFmpeg:   ffmpegPath,
		FFprobe:  ffprobePath,
		HWAccels: accels,
	}, nil
})

// Load locates the ffmpeg tools once per process and returns the cached result
func Load() (*Toolchain, error) {
	return loadToolchain()
}

// parseHWAccels reads the output of `ffmpeg -hwaccels`
func parseHWAccels(out string) []types.HardwareAcceleration {
	var accels []types.HardwareAcceleration
	listing := false
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Hardware acceleration methods") {
			listing = true
			continue
		}
		if listing {
			accels = append(accels, types.HardwareAcceleration(line))
		}
	}
	return accels
}

// selectHardwareAcceleration picks the first candidate the toolchain supports
func selectHardwareAcceleration(candidates, available []types.HardwareAcceleration) types.HardwareAcceleration {
	accel, ok := lo.Find(candidates, func(c types.HardwareAcceleration) bool {
		return c != types.HardwareAccelerationNone && lo.Contains(available, c)
	})
	if !ok {
		return types.HardwareAccelerationNone
	}
	return accel
}
