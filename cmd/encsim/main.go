// Command encsim runs a synthetic encoding session: generated frames go
// through an encoder from the registry and out through the RTP sink, and a
// YAML report of what was sent and dropped is printed at the end.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jiyeyuran/videoencoder"
	"github.com/jiyeyuran/videoencoder/config"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "encsim:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "encsim",
		Usage:   "run a synthetic video encoding session",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "session YAML file"},
			&cli.StringFlag{Name: "codec", Usage: "VP8, VP9, H264 or AV1"},
			&cli.IntFlag{Name: "frames", Aliases: []string{"n"}, Usage: "number of input frames"},
			&cli.Float64Flag{Name: "fps", Usage: "input framerate"},
			&cli.IntFlag{Name: "bitrate", Usage: "single layer target bitrate in kbps"},
			&cli.BoolFlag{Name: "async", Usage: "encode on a worker goroutine"},
			&cli.BoolFlag{Name: "hardware", Usage: "put a simulated hardware encoder in front of the software one"},
			&cli.IntFlag{Name: "fail-after", Usage: "frames after which the simulated hardware encoder fails"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "text, json or auto"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg := config.Defaults()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	applyFlags(c, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, c.App.ErrWriter)
	videoencoder.Logger = logger

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rep, err := newSession(cfg, logger).run(ctx)
	if err != nil {
		return err
	}
	return printReport(c, rep)
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("codec") {
		cfg.Codec = c.String("codec")
	}
	if c.IsSet("frames") {
		cfg.Frames = c.Int("frames")
	}
	if c.IsSet("fps") {
		cfg.Framerate = c.Float64("fps")
	}
	if c.IsSet("bitrate") {
		kbps := c.Int("bitrate")
		cfg.Encoder.StartBitrateKbps = kbps
		cfg.Rates = append(cfg.Rates, config.RateStep{Bitrates: [][]int64{{int64(kbps)}}})
	}
	if c.IsSet("async") {
		cfg.Encoder.Async = c.Bool("async")
	}
	if c.IsSet("hardware") {
		cfg.Encoder.Hardware = c.Bool("hardware")
	}
	if c.IsSet("fail-after") {
		cfg.Encoder.FailAfterFrames = c.Int("fail-after")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
}

func printReport(c *cli.Context, rep *report) error {
	enc := yaml.NewEncoder(c.App.Writer)
	defer enc.Close()
	return enc.Encode(rep)
}
