// Command cadence plays a media file or URL in an SDL window: video frames
// are rendered into a streaming texture, audio goes to the default output
// device, and the space bar toggles pause. All playback logic lives in the
// core packages; this binary is only display and input glue.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/zsiec/cadence/container"
	"github.com/zsiec/cadence/media"
	"github.com/zsiec/cadence/output"
	"github.com/zsiec/cadence/player"
)

func main() {
	// SDL rendering must happen on the main OS thread.
	runtime.LockOSThread()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file-or-url>\n", os.Args[0])
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		slog.Error("playback failed", "error", err)
		os.Exit(1)
	}
}

func run(url string) error {
	in, err := container.Open(url, nil)
	if err != nil {
		return err
	}

	width, height := videoSize(in.Streams())
	if width == 0 {
		width, height = 1280, 720
	}

	out, err := output.Default()
	if err != nil {
		in.Close()
		return err
	}

	// The video worker delivers frames on its own goroutine; marshal them
	// to the main thread through a small channel. Capacity 1 keeps at most
	// one undrawn frame around without stalling the worker behind vsync.
	frames := make(chan *media.VideoFrame, 1)

	p, err := player.Start(player.Config{
		Source:   in,
		Decoders: in,
		Output:   out,
		OnFrame: func(f *media.VideoFrame) {
			select {
			case frames <- f:
			default:
			}
		},
		OnStateChanged: func(playing bool) {
			slog.Info("playback state changed", "playing", playing)
		},
	})
	if err != nil {
		out.Close()
		in.Close()
		return err
	}
	defer p.Close()

	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return fmt.Errorf("initializing SDL: %w", err)
	}
	defer sdl.Quit()

	window, err := sdl.CreateWindow("cadence", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return fmt.Errorf("creating window: %w", err)
	}
	defer window.Destroy()

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		return fmt.Errorf("creating renderer: %w", err)
	}
	defer renderer.Destroy()

	texture, err := renderer.CreateTexture(uint32(sdl.PIXELFORMAT_RGBA32), sdl.TEXTUREACCESS_STREAMING,
		int32(width), int32(height))
	if err != nil {
		return fmt.Errorf("creating texture: %w", err)
	}
	defer texture.Destroy()

	for {
		for ev := sdl.PollEvent(); ev != nil; ev = sdl.PollEvent() {
			switch e := ev.(type) {
			case *sdl.QuitEvent:
				return nil
			case *sdl.KeyboardEvent:
				if e.Type != sdl.KEYDOWN {
					continue
				}
				switch e.Keysym.Sym {
				case sdl.K_SPACE:
					p.TogglePause()
				case sdl.K_ESCAPE, sdl.K_q:
					return nil
				}
			}
		}

		select {
		case <-p.Done():
			return nil
		case f := <-frames:
			if err := draw(texture, renderer, f); err != nil {
				return err
			}
		default:
			sdl.Delay(4)
		}
	}
}

// draw copies a frame into the streaming texture row by row (texture pitch
// may exceed the frame stride) and presents it.
func draw(texture *sdl.Texture, renderer *sdl.Renderer, f *media.VideoFrame) error {
	pixels, pitch, err := texture.Lock(nil)
	if err != nil {
		return fmt.Errorf("locking texture: %w", err)
	}
	for y := 0; y < f.Height; y++ {
		copy(pixels[y*pitch:], f.Data[y*f.Stride:(y+1)*f.Stride])
	}
	texture.Unlock()

	if err := renderer.Copy(texture, nil, nil); err != nil {
		return fmt.Errorf("copying texture: %w", err)
	}
	renderer.Present()
	return nil
}

func videoSize(streams []media.StreamInfo) (w, h int) {
	for _, s := range streams {
		if s.Type == media.TypeVideo {
			return s.Width, s.Height
		}
	}
	return 0, 0
}
