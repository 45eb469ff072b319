// Command lumen probes and plays media from the terminal.
//
//	lumen probe <url>   print streams and duration
//	lumen play <url>    headless playback: audio to the device, video discarded
//
// Configuration is read from the file named by LUMEN_CONFIG plus LUMEN_*
// environment variables.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenplay/lumen/config"
	"github.com/lumenplay/lumen/player"
	"github.com/lumenplay/lumen/state"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 3 {
		usage()
		os.Exit(2)
	}
	cmd, url := os.Args[1], os.Args[2]

	cfg, err := config.Load(os.Getenv("LUMEN_CONFIG"))
	if err != nil {
		slog.Error("bad configuration", "error", err)
		os.Exit(1)
	}

	switch cmd {
	case "probe":
		os.Exit(probe(cfg, url))
	case "play":
		os.Exit(play(cfg, url))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "lumen %s\nusage: lumen probe|play <url>\n", version)
}

func probe(cfg *config.Config, url string) int {
	p := player.New(player.WithConfig(cfg))
	defer p.Close()

	if err := p.Open(url); err != nil {
		slog.Error("open failed", "error", err)
		return 1
	}

	fmt.Printf("duration: %s\n", p.Duration().Round(time.Millisecond))
	for _, s := range p.Streams() {
		switch {
		case s.Width > 0:
			fmt.Printf("stream %d: %s %s %dx%d %.3f fps\n",
				s.Index, s.Kind, s.Codec, s.Width, s.Height, s.FrameRate)
		case s.SampleRate > 0:
			fmt.Printf("stream %d: %s %s %d Hz %d ch\n",
				s.Index, s.Kind, s.Codec, s.SampleRate, s.Channels)
		default:
			fmt.Printf("stream %d: %s %s\n", s.Index, s.Kind, s.Codec)
		}
	}
	return 0
}

func play(cfg *config.Config, url string) int {
	p := player.New(player.WithConfig(cfg))
	defer p.Close()

	if err := p.Open(url); err != nil {
		slog.Error("open failed", "error", err)
		return 1
	}
	if err := p.Play(); err != nil {
		slog.Error("play failed", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, stopping", "signal", sig)
			p.Stop()
			return 0
		case <-ticker.C:
			pos := p.CurrentTime().Round(time.Second)
			dur := p.Duration().Round(time.Second)
			stats := p.Stats()
			fmt.Printf("\r%s / %s  (a/v offset %.0fms, %s)   ",
				pos, dur, stats.Sync.OffsetMillis, stats.Sync.Quality())
			if dur > 0 && pos >= dur && p.State() != state.Playing {
				fmt.Println()
				return 0
			}
		}
	}
}
