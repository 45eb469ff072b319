package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/lumenplay/lumen/media"
)

// Resampler converts decoder-native PCM (any rate, channel count, and
// sample format, planar or interleaved) into the device target format. It
// runs on the audio decode worker, never on the device callback, so the
// callback only ever copies bytes. The intermediate buffers are allocated
// once and grown only when a larger frame ever arrives.
type Resampler struct {
	log    *slog.Logger
	target Spec

	srcRate     int
	srcChannels int
	srcFormat   media.SampleFormat
	srcPlanar   bool
	initialized bool

	// Scratch: source samples as interleaved float64, then the
	// rate-converted result. Grown, never shrunk.
	srcScratch []float64
	outScratch []float64
}

// NewResampler creates a resampler. If log is nil, slog.Default() is used.
func NewResampler(log *slog.Logger) *Resampler {
	if log == nil {
		log = slog.Default()
	}
	return &Resampler{log: log.With("component", "resampler")}
}

// SetTarget fixes the output format for the session.
func (r *Resampler) SetTarget(spec Spec) {
	r.target = spec
}

// Reset drops the source format state so the next frame re-derives it.
// Used on seek when the stream format could change; in practice formats
// are stable per stream.
func (r *Resampler) Reset() {
	r.initialized = false
}

// Resample converts one decoded frame to the target format. The input
// frame's timestamp is passed through in milliseconds. The fast path (same
// rate, format, and channel count) performs only a layout copy.
func (r *Resampler) Resample(f *media.AudioFrame) (*media.PCMFrame, error) {
	if r.target.SampleRate <= 0 || r.target.Channels <= 0 {
		return nil, ErrNotInitialized
	}
	if f.Samples <= 0 || f.Channels <= 0 || f.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: empty frame")
	}
	if f.Format.Bytes() == 0 {
		return nil, ErrUnsupportedFormat
	}

	if !r.initialized || f.SampleRate != r.srcRate || f.Channels != r.srcChannels ||
		f.Format != r.srcFormat || f.Planar != r.srcPlanar {
		r.srcRate = f.SampleRate
		r.srcChannels = f.Channels
		r.srcFormat = f.Format
		r.srcPlanar = f.Planar
		r.initialized = true
	}

	ptsMillis := f.PTS.Milliseconds()

	if f.SampleRate == r.target.SampleRate && f.Format == r.target.Format &&
		f.Channels == r.target.Channels {
		data, err := r.layoutCopy(f)
		if err != nil {
			return nil, err
		}
		return &media.PCMFrame{Data: data, Samples: f.Samples, PTSMillis: ptsMillis}, nil
	}

	// Decode to interleaved float64, mix channels, convert the rate, then
	// encode into the target format.
	src := r.grow(&r.srcScratch, f.Samples*r.target.Channels)
	if err := decodeMixed(f, r.target.Channels, src); err != nil {
		return nil, err
	}

	outSamples := outputSampleCount(f.Samples, f.SampleRate, r.target.SampleRate)
	out := r.grow(&r.outScratch, outSamples*r.target.Channels)
	resampleLinear(src, f.Samples, out, outSamples, r.target.Channels)

	data := make([]byte, outSamples*r.target.FrameBytes())
	if err := encode(out[:outSamples*r.target.Channels], r.target.Format, data); err != nil {
		return nil, err
	}
	return &media.PCMFrame{Data: data, Samples: outSamples, PTSMillis: ptsMillis}, nil
}

// outputSampleCount is deterministic for a given input count and rate pair.
// Downstream accounting is in milliseconds, so the ±1 rounding is harmless.
func outputSampleCount(in, inRate, outRate int) int {
	n := int(math.Round(float64(in) * float64(outRate) / float64(inRate)))
	if n < 1 {
		n = 1
	}
	return n
}

func (r *Resampler) grow(buf *[]float64, n int) []float64 {
	if cap(*buf) < n {
		*buf = make([]float64, n)
	}
	return (*buf)[:n]
}

// layoutCopy handles the format-equal fast path: interleaved input is
// copied verbatim, planar input is interleaved sample by sample.
func (r *Resampler) layoutCopy(f *media.AudioFrame) ([]byte, error) {
	size := f.Samples * f.Channels * f.Format.Bytes()
	data := make([]byte, size)

	if !f.Planar {
		if len(f.Data) == 0 || len(f.Data[0]) < size {
			return nil, fmt.Errorf("audio: short interleaved plane")
		}
		copy(data, f.Data[0][:size])
		return data, nil
	}

	bps := f.Format.Bytes()
	planeSize := f.Samples * bps
	if len(f.Data) < f.Channels {
		return nil, fmt.Errorf("audio: %d planes for %d channels", len(f.Data), f.Channels)
	}
	for ch := 0; ch < f.Channels; ch++ {
		if len(f.Data[ch]) < planeSize {
			return nil, fmt.Errorf("audio: short plane %d", ch)
		}
		for i := 0; i < f.Samples; i++ {
			copy(data[(i*f.Channels+ch)*bps:], f.Data[ch][i*bps:(i+1)*bps])
		}
	}
	return data, nil
}

// decodeMixed reads the frame into dst as interleaved float64 with
// outChannels channels: mono duplicates, any-to-mono averages, and
// otherwise output channel n takes source channel n modulo the source
// count, so source channels beyond the target count are dropped.
func decodeMixed(f *media.AudioFrame, outChannels int, dst []float64) error {
	sample := func(ch, i int) (float64, error) {
		var plane []byte
		var off int
		bps := f.Format.Bytes()
		if f.Planar {
			if ch >= len(f.Data) {
				return 0, fmt.Errorf("audio: missing plane %d", ch)
			}
			plane = f.Data[ch]
			off = i * bps
		} else {
			if len(f.Data) == 0 {
				return 0, fmt.Errorf("audio: missing data plane")
			}
			plane = f.Data[0]
			off = (i*f.Channels + ch) * bps
		}
		if off+bps > len(plane) {
			return 0, fmt.Errorf("audio: frame data truncated")
		}
		return decodeSample(plane[off:off+bps], f.Format), nil
	}

	for i := 0; i < f.Samples; i++ {
		for oc := 0; oc < outChannels; oc++ {
			var v float64
			switch {
			case f.Channels == outChannels:
				s, err := sample(oc, i)
				if err != nil {
					return err
				}
				v = s
			case f.Channels == 1:
				s, err := sample(0, i)
				if err != nil {
					return err
				}
				v = s
			case outChannels == 1:
				var sum float64
				for ic := 0; ic < f.Channels; ic++ {
					s, err := sample(ic, i)
					if err != nil {
						return err
					}
					sum += s
				}
				v = sum / float64(f.Channels)
			default:
				// Take the matching source channel; extra source channels
				// are dropped, a shorter source wraps around.
				s, err := sample(oc%f.Channels, i)
				if err != nil {
					return err
				}
				v = s
			}
			dst[i*outChannels+oc] = v
		}
	}
	return nil
}

// resampleLinear converts inSamples interleaved frames to outSamples via
// linear interpolation per channel.
func resampleLinear(src []float64, inSamples int, dst []float64, outSamples, channels int) {
	if inSamples == 1 {
		for i := 0; i < outSamples; i++ {
			for ch := 0; ch < channels; ch++ {
				dst[i*channels+ch] = src[ch]
			}
		}
		return
	}
	step := float64(inSamples-1) / float64(maxInt(outSamples-1, 1))
	for i := 0; i < outSamples; i++ {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= inSamples-1 {
			idx = inSamples - 2
		}
		frac := pos - float64(idx)
		for ch := 0; ch < channels; ch++ {
			a := src[idx*channels+ch]
			b := src[(idx+1)*channels+ch]
			dst[i*channels+ch] = a + (b-a)*frac
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// decodeSample converts one sample to [-1,1] float64.
func decodeSample(b []byte, f media.SampleFormat) float64 {
	switch f {
	case media.SampleU8:
		return (float64(b[0]) - 128) / 128
	case media.SampleS16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case media.SampleS32:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	case media.SampleF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case media.SampleF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return 0
	}
}

// encode writes interleaved float64 samples into dst in the target format,
// little-endian, clipping to full scale.
func encode(src []float64, f media.SampleFormat, dst []byte) error {
	bps := f.Bytes()
	if len(dst) < len(src)*bps {
		return fmt.Errorf("audio: encode buffer too small")
	}
	for i, v := range src {
		v = math.Max(-1, math.Min(1, v))
		switch f {
		case media.SampleU8:
			dst[i] = uint8(v*127 + 128)
		case media.SampleS16:
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(v*32767)))
		case media.SampleS32:
			binary.LittleEndian.PutUint32(dst[i*4:], uint32(int32(v*2147483647)))
		case media.SampleF32:
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(float32(v)))
		case media.SampleF64:
			binary.LittleEndian.PutUint64(dst[i*8:], math.Float64bits(v))
		default:
			return ErrUnsupportedFormat
		}
	}
	return nil
}
