package audio

import "math"

// applyVolume scales 16-bit little-endian PCM samples in place
func applyVolume(data []byte, volume float64) {
	if volume >= 1.0 {
		return
	}
	if volume < 0 {
		volume = 0
	}

	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int16(float64(sample) * volume)
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

// timeStretch resamples interleaved PCM by nearest neighbour so it plays
// 1/speed as long. Pitch shifts with speed. The input is returned as is
// when speed is 1.
func timeStretch(data []byte, speed float64, frameSize int) []byte {
	if speed == 1.0 || speed <= 0 || frameSize <= 0 {
		return data
	}

	inFrames := len(data) / frameSize
	outFrames := int(math.Round(float64(inFrames) / speed))
	out := make([]byte, outFrames*frameSize)
	for i := 0; i < outFrames; i++ {
		src := int(float64(i) * speed)
		if src >= inFrames {
			src = inFrames - 1
		}
		copy(out[i*frameSize:(i+1)*frameSize], data[src*frameSize:(src+1)*frameSize])
	}
	return out
}
