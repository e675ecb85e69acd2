package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/streamgrab/backend/internal/cache"
	"github.com/streamgrab/backend/internal/config"
	"github.com/streamgrab/backend/internal/converter"
	"github.com/streamgrab/backend/internal/downloader"
	"github.com/streamgrab/backend/internal/extractor"
	"github.com/streamgrab/backend/internal/identity"
	"github.com/streamgrab/backend/internal/logger"
	"github.com/streamgrab/backend/internal/media"
	"github.com/streamgrab/backend/internal/orchestrator"
)

const usage = `streamgrab fetches media from supported platforms.

Usage:

  streamgrab <command> [flags] [arguments]

Commands:

  download <url>     fetch the best matching stream and save it
  info <url>         show the title and available streams for a URL
  list-extractors    list the supported platforms
  help               show this message

Download flags:

  --output dir          directory to save into
  --format fmt          target container, e.g. mp4 or mp3
  --quality q           quality label, e.g. 720p or 1080p
  --audio-quality tier  audio conversion tier: low, medium or high
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Pipeline logs go to stderr so stdout stays parseable; warnings
	// and errors only.
	logger.SetDefault(logger.New(os.Stderr, logger.LevelWarn, "cli"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "download":
		code = runDownload(ctx, os.Args[2:])
	case "info":
		code = runInfo(ctx, os.Args[2:])
	case "list-extractors":
		code = runListExtractors()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	os.Exit(code)
}

// buildPipeline wires the same stack the bridge serves, minus the HTTP
// surface. The returned cleanup closes the redirect cache if one was
// connected.
func buildPipeline(cfg *config.Config) (*orchestrator.Orchestrator, func()) {
	var redirectCache extractor.RedirectCache
	cleanup := func() {}
	if cfg.RedisAddr != "" {
		if c, err := cache.New(cfg.RedisAddr); err == nil {
			redirectCache = c
			cleanup = func() { c.Close() }
		}
	}

	ids := identity.NewProvider()
	engine := downloader.NewEngine(ids.BrowserUserAgent(), cfg.HTTPTimeout, cfg.MaxRetries, cfg.RetryBaseDelay)
	transcoder := converter.New(cfg.FFmpegPath, cfg.FFprobePath)

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	registry := extractor.DefaultRegistry(client, ids, engine, redirectCache)

	return orchestrator.New(registry, engine, transcoder, cfg.OutputDir, nil), cleanup
}

func runDownload(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	output := fs.String("output", "", "directory to save into")
	format := fs.String("format", "", "target container, e.g. mp4 or mp3")
	quality := fs.String("quality", "", "quality label, e.g. 720p")
	audioQuality := fs.String("audio-quality", "", "audio conversion tier: low, medium or high")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: streamgrab download [flags] <url>")
		return 2
	}

	cfg := config.Load()
	if *output != "" {
		cfg.OutputDir = *output
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", cfg.OutputDir, err)
		return 1
	}

	orch, cleanup := buildPipeline(cfg)
	defer cleanup()

	meter := newProgressMeter(os.Stdout)
	job, err := orch.Download(ctx, fs.Arg(0), orchestrator.DownloadOptions{
		Format:       *format,
		Quality:      *quality,
		AudioTier:    *audioQuality,
		OnProgress:   meter.update,
		OnConversion: meter.conversion,
	})
	meter.finish()
	if err != nil {
		fmt.Fprintf(os.Stderr, "download failed: %v\n", err)
		return 1
	}

	fmt.Printf("saved to %s\n", job.FilePath)
	return 0
}

func runInfo(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: streamgrab info <url>")
		return 2
	}

	orch, cleanup := buildPipeline(config.Load())
	defer cleanup()

	result, err := orch.Extract(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "extraction failed: %v\n", err)
		return 1
	}

	fmt.Printf("Title:      %s\n", result.Title)
	if result.Duration > 0 {
		fmt.Printf("Duration:   %s\n", formatDuration(result.Duration))
	}
	fmt.Printf("Extractor:  %s\n", result.Extractor)
	if result.Thumbnail != "" {
		fmt.Printf("Thumbnail:  %s\n", result.Thumbnail)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "QUALITY\tCONTAINER\tCODEC\tSIZE\tTRACKS")
	for _, s := range result.Streams {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.Quality, s.Container, orDash(s.Codec), sizeOrDash(s.Size), trackLabel(s))
	}
	w.Flush()
	return 0
}

func runListExtractors() int {
	for _, name := range extractor.DefaultRegistry(nil, nil, nil, nil).Names() {
		fmt.Println(name)
	}
	return 0
}

func trackLabel(s media.StreamDescriptor) string {
	switch {
	case s.HasVideo && s.HasAudio:
		return "video+audio"
	case s.HasVideo:
		return "video"
	case s.HasAudio:
		return "audio"
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sizeOrDash(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanBytes(n)
}

func formatDuration(seconds int) string {
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// progressMeter renders a single rewriting status line. It stays
// silent when stdout is not a terminal so piped output is clean.
type progressMeter struct {
	out     *os.File
	enabled bool
	lastLen int
}

func newProgressMeter(out *os.File) *progressMeter {
	info, err := out.Stat()
	return &progressMeter{
		out:     out,
		enabled: err == nil && info.Mode()&os.ModeCharDevice != 0,
	}
}

func (p *progressMeter) update(job orchestrator.DownloadJob) {
	if !p.enabled {
		return
	}
	line := fmt.Sprintf("%3d%%  %s", job.Percent, humanBytes(job.BytesDownloaded))
	if job.TotalBytes > 0 {
		line += " / " + humanBytes(job.TotalBytes)
	}
	if job.Speed > 0 {
		line += fmt.Sprintf("  %s/s", humanBytes(int64(job.Speed)))
	}
	p.render(line)
}

func (p *progressMeter) conversion(percent int) {
	if !p.enabled {
		return
	}
	p.render(fmt.Sprintf("converting %3d%%", percent))
}

// render pads with spaces past the previous line's length so a shorter
// line fully overwrites a longer one.
func (p *progressMeter) render(line string) {
	n := len(line)
	if pad := p.lastLen - n; pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	p.lastLen = n
	fmt.Fprint(p.out, "\r"+line)
}

func (p *progressMeter) finish() {
	if !p.enabled || p.lastLen == 0 {
		return
	}
	fmt.Fprintln(p.out)
	p.lastLen = 0
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
