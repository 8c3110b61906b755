package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"github.com/zsiec/cadence/audio"
	"github.com/zsiec/cadence/media"
	"github.com/zsiec/cadence/video"
)

// openCodecContext builds and opens a decoder context for the stream's codec
// parameters, registering frees on the closer.
func openCodecContext(c *astikit.Closer, s *astiav.Stream) (*astiav.CodecContext, error) {
	cp := s.CodecParameters()
	codec := astiav.FindDecoder(cp.CodecID())
	if codec == nil {
		return nil, fmt.Errorf("%w: no decoder for codec %s", media.ErrDecoderInit, cp.CodecID())
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, fmt.Errorf("%w: allocating codec context", media.ErrDecoderInit)
	}
	c.Add(cc.Free)
	if err := cc.FromCodecParameters(cp); err != nil {
		return nil, fmt.Errorf("%w: applying codec parameters: %s", media.ErrDecoderInit, err)
	}
	if err := cc.Open(codec, nil); err != nil {
		return nil, fmt.Errorf("%w: opening codec %s: %s", media.ErrDecoderInit, cp.CodecID(), err)
	}
	return cc, nil
}

// repacket rebuilds an FFmpeg packet from a pipeline packet for decoding.
func repacket(pkt *astiav.Packet, p *media.Packet) error {
	pkt.Unref()
	if err := pkt.FromData(p.Data); err != nil {
		return fmt.Errorf("%w: rebuilding packet: %s", media.ErrDecode, err)
	}
	pkt.SetPts(p.PTS)
	pkt.SetDts(p.DTS)
	pkt.SetDuration(p.Duration)
	pkt.SetStreamIndex(p.StreamIndex)
	return nil
}

// AudioDecoder decodes one audio stream and resamples every frame to the
// output device's sample rate and channel layout, in packed float64, so the
// worker can push samples straight into its ring.
type AudioDecoder struct {
	c    *astikit.Closer
	cc   *astiav.CodecContext
	swr  *astiav.SoftwareResampleContext
	spec media.AudioSpec

	layout astiav.ChannelLayout
	pkt    *astiav.Packet
	frame  *astiav.Frame
	out    *astiav.Frame
}

// OpenAudioDecoder constructs a decoder+resampler for the given stream,
// targeting the device spec.
func (in *Input) OpenAudioDecoder(info media.StreamInfo, spec media.AudioSpec) (audio.Decoder, error) {
	s, ok := in.byIndex[info.Index]
	if !ok {
		return nil, fmt.Errorf("%w: unknown stream index %d", media.ErrDecoderInit, info.Index)
	}

	var layout astiav.ChannelLayout
	switch spec.Channels {
	case 1:
		layout = astiav.ChannelLayoutMono
	case 2:
		layout = astiav.ChannelLayoutStereo
	default:
		return nil, fmt.Errorf("%w: unsupported output channel count %d", media.ErrResamplerInit, spec.Channels)
	}

	d := &AudioDecoder{
		c:      astikit.NewCloser(),
		spec:   spec,
		layout: layout,
	}

	cc, err := openCodecContext(d.c, s)
	if err != nil {
		d.c.Close()
		return nil, err
	}
	d.cc = cc

	d.swr = astiav.AllocSoftwareResampleContext()
	if d.swr == nil {
		d.c.Close()
		return nil, fmt.Errorf("%w: allocating resample context", media.ErrResamplerInit)
	}
	d.c.Add(d.swr.Free)

	d.pkt = astiav.AllocPacket()
	d.c.Add(d.pkt.Free)
	d.frame = astiav.AllocFrame()
	d.c.Add(d.frame.Free)
	d.out = astiav.AllocFrame()
	d.c.Add(d.out.Free)

	return d, nil
}

// Decode decodes one packet and returns its samples resampled to the device
// spec as stereo pairs. Mono output is duplicated into both pair slots.
func (d *AudioDecoder) Decode(p *media.Packet) ([][2]float64, error) {
	if err := repacket(d.pkt, p); err != nil {
		return nil, err
	}
	if err := d.cc.SendPacket(d.pkt); err != nil {
		return nil, fmt.Errorf("%w: sending audio packet: %s", media.ErrDecode, err)
	}

	var samples [][2]float64
	for {
		d.frame.Unref()
		if err := d.cc.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return samples, nil
			}
			return samples, fmt.Errorf("%w: receiving audio frame: %s", media.ErrDecode, err)
		}

		d.out.Unref()
		d.out.SetChannelLayout(d.layout)
		d.out.SetSampleRate(d.spec.SampleRate)
		d.out.SetSampleFormat(astiav.SampleFormatDbl)
		if err := d.swr.ConvertFrame(d.frame, d.out); err != nil {
			return samples, fmt.Errorf("%w: resampling audio frame: %s", media.ErrDecode, err)
		}
		n := d.out.NbSamples()
		if n == 0 {
			continue
		}

		b, err := d.out.Data().Bytes(1)
		if err != nil {
			return samples, fmt.Errorf("%w: reading resampled samples: %s", media.ErrDecode, err)
		}
		// The data plane can be larger than the sample payload; trust the
		// sample count, not the buffer length.
		want := n * d.spec.Channels * 8
		if len(b) < want {
			return samples, fmt.Errorf("%w: short sample buffer: %d < %d", media.ErrDecode, len(b), want)
		}
		b = b[:want]

		for i := 0; i < n; i++ {
			var pair [2]float64
			if d.spec.Channels == 1 {
				v := math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
				pair[0], pair[1] = v, v
			} else {
				off := i * 16
				pair[0] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
				pair[1] = math.Float64frombits(binary.LittleEndian.Uint64(b[off+8:]))
			}
			samples = append(samples, pair)
		}
	}
}

// Close releases the decoder's FFmpeg resources.
func (d *AudioDecoder) Close() error {
	return d.c.Close()
}

// VideoDecoder decodes one video stream and converts every frame to RGBA at
// the stream's native size. The scale context is created lazily from the
// first decoded frame, since the pixel format is only certain then.
type VideoDecoder struct {
	c        *astikit.Closer
	cc       *astiav.CodecContext
	ssc      *astiav.SoftwareScaleContext
	timeBase media.Rational
	rate     media.Rational

	pkt   *astiav.Packet
	frame *astiav.Frame
	rgba  *astiav.Frame

	frameCount int64
}

// OpenVideoDecoder constructs a decoder+converter for the given stream.
func (in *Input) OpenVideoDecoder(info media.StreamInfo) (video.Decoder, error) {
	s, ok := in.byIndex[info.Index]
	if !ok {
		return nil, fmt.Errorf("%w: unknown stream index %d", media.ErrDecoderInit, info.Index)
	}

	d := &VideoDecoder{
		c:        astikit.NewCloser(),
		timeBase: info.TimeBase,
		rate:     info.FrameRate,
	}

	cc, err := openCodecContext(d.c, s)
	if err != nil {
		d.c.Close()
		return nil, err
	}
	d.cc = cc

	d.pkt = astiav.AllocPacket()
	d.c.Add(d.pkt.Free)
	d.frame = astiav.AllocFrame()
	d.c.Add(d.frame.Free)
	d.rgba = astiav.AllocFrame()
	d.c.Add(d.rgba.Free)

	return d, nil
}

// Decode decodes one packet into zero or more RGBA frames stamped with their
// presentation time.
func (d *VideoDecoder) Decode(p *media.Packet) ([]*media.VideoFrame, error) {
	if err := repacket(d.pkt, p); err != nil {
		return nil, err
	}
	if err := d.cc.SendPacket(d.pkt); err != nil {
		return nil, fmt.Errorf("%w: sending video packet: %s", media.ErrDecode, err)
	}

	var frames []*media.VideoFrame
	for {
		d.frame.Unref()
		if err := d.cc.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return frames, nil
			}
			return frames, fmt.Errorf("%w: receiving video frame: %s", media.ErrDecode, err)
		}

		out, err := d.convert()
		if err != nil {
			return frames, err
		}
		frames = append(frames, out)
	}
}

// convert scales/converts the current decoded frame to RGBA and copies the
// pixels out into a pipeline frame.
func (d *VideoDecoder) convert() (*media.VideoFrame, error) {
	w, h := d.frame.Width(), d.frame.Height()

	if d.ssc == nil {
		ssc, err := astiav.CreateSoftwareScaleContext(
			w, h, d.frame.PixelFormat(),
			w, h, astiav.PixelFormatRgba,
			astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: creating scale context: %s", media.ErrDecode, err)
		}
		d.ssc = ssc
		d.c.Add(d.ssc.Free)
	}

	d.rgba.Unref()
	if err := d.ssc.ScaleFrame(d.frame, d.rgba); err != nil {
		return nil, fmt.Errorf("%w: converting frame: %s", media.ErrDecode, err)
	}

	b, err := d.rgba.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("%w: reading frame pixels: %s", media.ErrDecode, err)
	}

	out := &media.VideoFrame{
		Data:   append([]byte(nil), b...),
		Width:  w,
		Height: h,
		Stride: w * 4,
		PTS:    d.pts(),
	}
	d.frameCount++
	return out, nil
}

// pts stamps the current frame: the stream timestamp when present, otherwise
// a synthetic position from the frame counter and the average frame rate.
func (d *VideoDecoder) pts() time.Duration {
	if ts := d.frame.Pts(); ts != astiav.NoPtsValue {
		return d.timeBase.Duration(ts)
	}
	if d.rate.Num == 0 {
		return 0
	}
	return time.Duration(d.frameCount * int64(time.Second) * int64(d.rate.Den) / int64(d.rate.Num))
}

// Close releases the decoder's FFmpeg resources.
func (d *VideoDecoder) Close() error {
	return d.c.Close()
}
