// Package converter wraps the external transcoding subprocess for
// audio conversion and playlist remuxing.
package converter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/logger"
)

// Tier is a named audio quality level mapped to a fixed bitrate per
// format.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// bitrates maps format and tier to the encoder bitrate. wav is
// lossless and has no entry; it ignores the tier.
var bitrates = map[string]map[Tier]string{
	"mp3": {TierLow: "128k", TierMedium: "192k", TierHigh: "320k"},
	"aac": {TierLow: "96k", TierMedium: "128k", TierHigh: "256k"},
	"m4a": {TierLow: "96k", TierMedium: "128k", TierHigh: "256k"},
}

// audioFormats is every output format Convert accepts.
var audioFormats = map[string]bool{
	"mp3": true,
	"wav": true,
	"aac": true,
	"m4a": true,
}

// IsAudioFormat reports whether format is a supported conversion
// target.
func IsAudioFormat(format string) bool {
	return audioFormats[strings.ToLower(format)]
}

// AudioFormats lists the supported conversion targets.
func AudioFormats() []string {
	out := make([]string, 0, len(audioFormats))
	for f := range audioFormats {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ProgressFunc receives integer conversion progress from 0 to 100.
type ProgressFunc func(percent int)

// Converter runs the transcoder. Safe for concurrent use; each call
// spawns its own subprocess.
type Converter struct {
	ffmpegPath  string
	ffprobePath string
	log         *logger.Logger
}

// New creates a converter around the given binaries. Empty paths fall
// back to looking the tools up on PATH.
func New(ffmpegPath, ffprobePath string) *Converter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Converter{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		log:         logger.Default().WithComponent("converter"),
	}
}

// buildAudioArgs assembles the transcoder invocation for an audio
// conversion: video stripped, audio encoded per format and tier. The
// output format is passed explicitly because the temp file's name
// carries no useful extension.
func buildAudioArgs(inputPath, tmpPath, format string, tier Tier) ([]string, error) {
	format = strings.ToLower(format)
	if !audioFormats[format] {
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}
	if tier == "" {
		tier = TierMedium
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-progress", "pipe:1",
		"-nostats",
	}

	switch format {
	case "mp3":
		args = append(args, "-c:a", "libmp3lame", "-b:a", bitrates["mp3"][tier], "-f", "mp3")
	case "aac":
		args = append(args, "-c:a", "aac", "-b:a", bitrates["aac"][tier], "-f", "adts")
	case "m4a":
		args = append(args, "-c:a", "aac", "-b:a", bitrates["m4a"][tier], "-movflags", "+faststart", "-f", "ipod")
	case "wav":
		args = append(args, "-c:a", "pcm_s16le", "-f", "wav")
	}

	if format != "wav" && bitrates[format][tier] == "" {
		return nil, fmt.Errorf("unsupported quality tier %q", tier)
	}

	args = append(args, tmpPath)
	return args, nil
}

// Convert transcodes inputPath into the requested audio format at
// outputPath, stripping any video stream. Progress is reported as the
// subprocess reports it. All failures come back as ConversionFailed
// errors; on failure no partial output file is left behind.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath, format string, tier Tier, onProgress ProgressFunc) (string, error) {
	args, err := buildAudioArgs(inputPath, tmpPath(outputPath), format, tier)
	if err != nil {
		return "", apperrors.ConversionFailed(err.Error())
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", apperrors.ConversionFailed("create output directory: " + err.Error())
		}
	}

	// Duration drives percent math; without it only the final 100 is
	// reported.
	totalMs, err := c.probeDurationMs(ctx, inputPath)
	if err != nil {
		c.log.Debug(ctx, "duration probe failed", map[string]interface{}{
			"input": inputPath,
			"error": err.Error(),
		})
		totalMs = 0
	}

	if err := c.runWithProgress(ctx, args, totalMs, onProgress); err != nil {
		os.Remove(tmpPath(outputPath))
		return "", err
	}

	os.Remove(outputPath)
	if err := os.Rename(tmpPath(outputPath), outputPath); err != nil {
		os.Remove(tmpPath(outputPath))
		return "", apperrors.ConversionFailed("finalize output: " + err.Error())
	}

	if onProgress != nil {
		onProgress(100)
	}
	c.log.Info(ctx, "conversion completed", map[string]interface{}{
		"output": outputPath,
		"format": format,
	})
	return outputPath, nil
}

// Remux pulls an HLS playlist and rewraps it into an MP4 file without
// re-encoding. The descriptor's request headers ride along so the
// delivery edge accepts the segment fetches.
func (c *Converter) Remux(ctx context.Context, sourceURL, outputPath string, headers map[string]string, onProgress ProgressFunc) (string, error) {
	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", apperrors.ConversionFailed("create output directory: " + err.Error())
		}
	}

	args := []string{"-y"}
	if ua, rest := splitUserAgent(headers); ua != "" || rest != "" {
		if ua != "" {
			args = append(args, "-user_agent", ua)
		}
		if rest != "" {
			args = append(args, "-headers", rest)
		}
	}
	args = append(args,
		"-i", sourceURL,
		"-progress", "pipe:1",
		"-nostats",
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-movflags", "+faststart",
		"-f", "mp4",
		tmpPath(outputPath),
	)

	if err := c.runWithProgress(ctx, args, 0, onProgress); err != nil {
		os.Remove(tmpPath(outputPath))
		return "", err
	}

	os.Remove(outputPath)
	if err := os.Rename(tmpPath(outputPath), outputPath); err != nil {
		os.Remove(tmpPath(outputPath))
		return "", apperrors.ConversionFailed("finalize output: " + err.Error())
	}

	if onProgress != nil {
		onProgress(100)
	}
	return outputPath, nil
}

// runWithProgress starts the transcoder and translates its key=value
// progress stream into percent callbacks. Percent never regresses and
// stays below 100 until the process exits cleanly.
func (c *Converter) runWithProgress(ctx context.Context, args []string, totalMs int64, onProgress ProgressFunc) error {
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.ConversionFailed("attach progress pipe: " + err.Error())
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return apperrors.ConversionFailed("start transcoder: " + err.Error())
	}

	scanner := bufio.NewScanner(stdout)
	lastPercent := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, found := strings.Cut(line, "=")
		if !found || key != "out_time_ms" {
			continue
		}
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || totalMs <= 0 {
			continue
		}
		// out_time_ms is microseconds despite the name.
		percent := int(float64(ms/1000) / float64(totalMs) * 100)
		if percent > 99 {
			percent = 99
		}
		if percent > lastPercent {
			lastPercent = percent
			if onProgress != nil {
				onProgress(percent)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return apperrors.ConversionFailed(
			fmt.Sprintf("transcoder failed: %v: %s", err, stderrTail(stderr.String())))
	}
	return nil
}

// probeDurationMs asks ffprobe for the container duration.
func (c *Converter) probeDurationMs(ctx context.Context, inputPath string) (int64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nokey=1:noprint_wrappers=1",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, c.ffprobePath, args...)
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return 0, fmt.Errorf("duration missing")
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return int64(seconds * 1000), nil
}

func tmpPath(outputPath string) string {
	return outputPath + ".part"
}

// stderrTail keeps error messages bounded; the interesting part of a
// transcoder failure is at the end of its output.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	const max = 2048
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}

// splitUserAgent separates the User-Agent header from the rest,
// because the transcoder takes it as its own flag. Remaining headers
// are joined CRLF-delimited the way its -headers flag expects.
func splitUserAgent(headers map[string]string) (userAgent, rest string) {
	if len(headers) == 0 {
		return "", ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if strings.EqualFold(k, "User-Agent") {
			userAgent = headers[k]
			continue
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(headers[k])
		b.WriteString("\r\n")
	}
	return userAgent, b.String()
}
