// Package container provides the FFmpeg-backed media source: opening a file
// or URL, enumerating its elementary streams, reading encoded packets in
// container order, and constructing decoders for the selected streams. It is
// the only package that touches go-astiav; everything above it speaks the
// types in package media.
package container

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"github.com/zsiec/cadence/media"
)

// Input is an opened media container. It implements player.Source and
// player.DecoderProvider. ReadPacket is not safe for concurrent use; the
// demuxer controller is its single caller.
type Input struct {
	log *slog.Logger
	c   *astikit.Closer
	fc  *astiav.FormatContext
	pkt *astiav.Packet

	streams []media.StreamInfo
	byIndex map[int]*astiav.Stream

	closeOnce sync.Once
	closeErr  error
}

// Open opens the container at url (a local path or anything FFmpeg's
// protocol layer accepts) and probes its streams.
func Open(url string, log *slog.Logger) (*Input, error) {
	if log == nil {
		log = slog.Default()
	}
	in := &Input{
		log:     log.With("component", "container", "url", url),
		c:       astikit.NewCloser(),
		byIndex: make(map[int]*astiav.Stream),
	}

	in.fc = astiav.AllocFormatContext()
	if in.fc == nil {
		return nil, fmt.Errorf("%w: allocating format context", media.ErrOpen)
	}
	in.c.Add(in.fc.Free)

	if err := in.fc.OpenInput(url, nil, nil); err != nil {
		in.c.Close()
		return nil, fmt.Errorf("%w: opening %q: %s", media.ErrOpen, url, err)
	}
	in.c.Add(in.fc.CloseInput)

	if err := in.fc.FindStreamInfo(nil); err != nil {
		in.c.Close()
		return nil, fmt.Errorf("%w: probing streams: %s", media.ErrOpen, err)
	}

	in.pkt = astiav.AllocPacket()
	in.c.Add(in.pkt.Free)

	for _, s := range in.fc.Streams() {
		in.byIndex[s.Index()] = s
		in.streams = append(in.streams, streamInfo(s))
	}

	in.log.Debug("container opened", "streams", len(in.streams))
	return in, nil
}

// streamInfo flattens an FFmpeg stream into the descriptor the rest of the
// pipeline understands.
func streamInfo(s *astiav.Stream) media.StreamInfo {
	cp := s.CodecParameters()
	info := media.StreamInfo{
		Index:    s.Index(),
		TimeBase: rational(s.TimeBase()),
	}
	if d := s.Duration(); d > 0 && d != astiav.NoPtsValue {
		info.Duration = info.TimeBase.Duration(d)
	}
	switch cp.MediaType() {
	case astiav.MediaTypeVideo:
		info.Type = media.TypeVideo
		info.Width = cp.Width()
		info.Height = cp.Height()
		info.FrameRate = rational(s.AvgFrameRate())
	case astiav.MediaTypeAudio:
		info.Type = media.TypeAudio
		info.SampleRate = cp.SampleRate()
		info.Channels = cp.ChannelLayout().Channels()
	}
	return info
}

func rational(r astiav.Rational) media.Rational {
	return media.Rational{Num: r.Num(), Den: r.Den()}
}

// Streams returns the container's stream descriptors in container order.
func (in *Input) Streams() []media.StreamInfo {
	return in.streams
}

// ReadPacket returns the next encoded packet in container read order, or
// io.EOF at end of stream. Packet data is copied out so the returned packet
// stays valid after the next read.
func (in *Input) ReadPacket() (*media.Packet, error) {
	for {
		in.pkt.Unref()
		if err := in.fc.ReadFrame(in.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("container: reading packet: %w", err)
		}

		data := in.pkt.Data()
		if len(data) == 0 {
			continue
		}
		out := &media.Packet{
			StreamIndex: in.pkt.StreamIndex(),
			Data:        append([]byte(nil), data...),
			PTS:         in.pkt.Pts(),
			DTS:         in.pkt.Dts(),
			Duration:    in.pkt.Duration(),
		}
		return out, nil
	}
}

// Duration returns the container's overall duration, or zero if unknown.
func (in *Input) Duration() time.Duration {
	// FormatContext durations are in AV_TIME_BASE (microsecond) units.
	if d := in.fc.Duration(); d > 0 {
		return time.Duration(d) * time.Microsecond
	}
	return 0
}

// Close releases all FFmpeg resources. Safe to call repeatedly.
func (in *Input) Close() error {
	in.closeOnce.Do(func() {
		in.closeErr = in.c.Close()
	})
	return in.closeErr
}
