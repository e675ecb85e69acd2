// Package orchestrator ties extraction, stream selection, downloading,
// and audio conversion into the extract and download operations, and
// owns the live job table.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/streamgrab/backend/internal/converter"
	"github.com/streamgrab/backend/internal/downloader"
	apperrors "github.com/streamgrab/backend/internal/errors"
	"github.com/streamgrab/backend/internal/extractor"
	"github.com/streamgrab/backend/internal/logger"
	"github.com/streamgrab/backend/internal/media"
)

// EventSink receives job lifecycle notifications keyed by job ID. All
// methods get value snapshots and run on the job's goroutine; keep
// them fast.
type EventSink interface {
	DownloadProgress(job DownloadJob)
	DownloadCompleted(job DownloadJob)
	DownloadError(job DownloadJob)
}

// EventSinks fans each event out to every sink in order.
type EventSinks []EventSink

func (s EventSinks) DownloadProgress(job DownloadJob) {
	for _, sink := range s {
		sink.DownloadProgress(job)
	}
}

func (s EventSinks) DownloadCompleted(job DownloadJob) {
	for _, sink := range s {
		sink.DownloadCompleted(job)
	}
}

func (s EventSinks) DownloadError(job DownloadJob) {
	for _, sink := range s {
		sink.DownloadError(job)
	}
}

// Engine is the slice of the download engine the orchestrator uses.
type Engine interface {
	DownloadFile(ctx context.Context, sourceURL, destPath string, onProgress downloader.ProgressFunc, opts downloader.Options) (string, error)
}

// Transcoder is the slice of the conversion adapter the orchestrator
// uses.
type Transcoder interface {
	Convert(ctx context.Context, inputPath, outputPath, format string, tier converter.Tier, onProgress converter.ProgressFunc) (string, error)
	Remux(ctx context.Context, sourceURL, outputPath string, headers map[string]string, onProgress converter.ProgressFunc) (string, error)
}

// DownloadOptions tune one download call. Supplied per call, never
// persisted.
type DownloadOptions struct {
	// OutputDir overrides the orchestrator's default directory.
	OutputDir string

	// Format is the requested container. An audio format (mp3, wav,
	// aac, m4a) triggers conversion when the selected stream is not
	// already in it.
	Format string

	// Quality is a quality-label hint, e.g. "720p".
	Quality string

	// AudioTier picks the conversion bitrate tier: low, medium, high.
	AudioTier string

	// OnProgress receives job snapshots on download progress, in
	// addition to the orchestrator's event sink.
	OnProgress func(job DownloadJob)

	// OnConversion receives transcoding percent.
	OnConversion func(percent int)
}

// Orchestrator runs the extract and download operations. Each download
// invocation is an independent flow; the job table is the only shared
// state.
type Orchestrator struct {
	registry   *extractor.Registry
	engine     Engine
	transcoder Transcoder
	jobs       *JobTable
	sink       EventSink
	outputDir  string
	log        *logger.Logger
}

// New creates an orchestrator. sink may be nil.
func New(registry *extractor.Registry, engine Engine, transcoder Transcoder, outputDir string, sink EventSink) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		engine:     engine,
		transcoder: transcoder,
		jobs:       NewJobTable(),
		sink:       sink,
		outputDir:  outputDir,
		log:        logger.Default().WithComponent("orchestrator"),
	}
}

// Jobs exposes the live job table.
func (o *Orchestrator) Jobs() *JobTable {
	return o.jobs
}

// Extractors lists registered extractor names in dispatch order.
func (o *Orchestrator) Extractors() []string {
	return o.registry.Names()
}

// Extract dispatches the URL to the registry. A NoExtractorFound error
// propagates verbatim.
func (o *Orchestrator) Extract(ctx context.Context, rawURL string) (*media.ExtractResult, error) {
	return o.registry.Extract(ctx, rawURL)
}

// Download runs the whole pipeline synchronously and returns the
// terminal job snapshot alongside any surfaced error.
func (o *Orchestrator) Download(ctx context.Context, rawURL string, opts DownloadOptions) (DownloadJob, error) {
	job := o.newJob(rawURL)
	return o.run(ctx, job.ID, rawURL, opts)
}

// StartDownload allocates a job and runs the pipeline on its own
// goroutine, returning the job ID immediately. The flow outlives the
// caller's request context; only its values carry over.
func (o *Orchestrator) StartDownload(ctx context.Context, rawURL string, opts DownloadOptions) string {
	job := o.newJob(rawURL)
	go o.run(context.WithoutCancel(ctx), job.ID, rawURL, opts)
	return job.ID
}

func (o *Orchestrator) newJob(rawURL string) DownloadJob {
	now := time.Now().UTC()
	job := &DownloadJob{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.jobs.insert(job)
	return *job
}

// run drives one job to a terminal state: the entry leaves the live
// table exactly when completed or error is reached.
func (o *Orchestrator) run(ctx context.Context, jobID, rawURL string, opts DownloadOptions) (DownloadJob, error) {
	ctx = apperrors.WithJobID(ctx, jobID)

	finalPath, err := o.execute(ctx, jobID, rawURL, opts)
	if err != nil {
		snapshot, _ := o.jobs.update(jobID, func(j *DownloadJob) {
			j.Status = StatusError
			j.Error = err.Error()
			j.UpdatedAt = time.Now().UTC()
		})
		o.jobs.remove(jobID)
		o.log.Error(ctx, "download pipeline failed", err, map[string]interface{}{
			"url": rawURL,
		})
		if o.sink != nil {
			o.sink.DownloadError(snapshot)
		}
		return snapshot, err
	}

	snapshot, _ := o.jobs.update(jobID, func(j *DownloadJob) {
		j.Status = StatusCompleted
		j.Percent = 100
		j.FilePath = finalPath
		j.UpdatedAt = time.Now().UTC()
	})
	o.jobs.remove(jobID)
	o.log.Info(ctx, "download pipeline completed", map[string]interface{}{
		"url":  rawURL,
		"path": finalPath,
	})
	if o.sink != nil {
		o.sink.DownloadCompleted(snapshot)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(snapshot)
	}
	return snapshot, nil
}

// execute performs extraction, selection, transfer, and conversion,
// returning the final file path.
func (o *Orchestrator) execute(ctx context.Context, jobID, rawURL string, opts DownloadOptions) (string, error) {
	result, err := o.registry.Extract(ctx, rawURL)
	if err != nil {
		return "", err
	}

	stream, ok := SelectStream(result.Streams, opts.Quality, opts.Format)
	if !ok {
		return "", apperrors.NoSuitableStream(rawURL)
	}

	o.jobs.update(jobID, func(j *DownloadJob) {
		j.Title = result.Title
		j.Status = StatusDownloading
		j.UpdatedAt = time.Now().UTC()
	})

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = o.outputDir
	}
	stem := SanitizeFilename(result.Title)

	var downloadedPath string
	if stream.Container == "m3u8" || stream.Container == "m3u" {
		// Playlist streams are segment lists; the transcoder pulls and
		// rewraps them rather than the byte engine copying one body.
		dest := filepath.Join(outputDir, stem+".mp4")
		downloadedPath, err = o.transcoder.Remux(ctx, stream.SourceURL, dest, stream.Headers, o.remuxProgress(jobID, opts))
	} else {
		dest := filepath.Join(outputDir, stem+"."+stream.Container)
		downloadedPath, err = o.engine.DownloadFile(ctx, stream.SourceURL, dest, o.downloadProgress(jobID, opts), downloader.Options{
			Headers: stream.Headers,
		})
	}
	if err != nil {
		return "", err
	}

	if !needsConversion(opts.Format, downloadedPath) {
		return downloadedPath, nil
	}

	format := strings.ToLower(opts.Format)
	outputPath := strings.TrimSuffix(downloadedPath, filepath.Ext(downloadedPath)) + "." + format
	converted, err := o.transcoder.Convert(ctx, downloadedPath, outputPath, format, converter.Tier(opts.AudioTier), o.conversionProgress(jobID, opts))
	if err != nil {
		return "", err
	}

	// Best-effort cleanup of the pre-conversion file; logged, never
	// escalated.
	if converted != downloadedPath {
		if rmErr := os.Remove(downloadedPath); rmErr != nil {
			o.log.Warn(ctx, "intermediate file cleanup failed", map[string]interface{}{
				"path":  downloadedPath,
				"error": rmErr.Error(),
			})
		}
	}
	return converted, nil
}

// needsConversion reports whether the requested format is an audio
// container the downloaded file is not already in.
func needsConversion(format, downloadedPath string) bool {
	if format == "" || !converter.IsAudioFormat(format) {
		return false
	}
	current := strings.TrimPrefix(filepath.Ext(downloadedPath), ".")
	return !strings.EqualFold(current, format)
}

// SelectStream applies the stream-selection policy: an exact
// quality-label match when a quality hint is given, else an exact
// container match when a format hint is given, else the best ladder
// rank. Deterministic and total; returns false only for an empty list.
func SelectStream(streams []media.StreamDescriptor, qualityHint, formatHint string) (media.StreamDescriptor, bool) {
	if len(streams) == 0 {
		return media.StreamDescriptor{}, false
	}

	if qualityHint != "" {
		want := media.ParseVideoQuality(qualityHint)
		for _, s := range streams {
			if want != media.QualityUnknown && s.Quality == want {
				return s, true
			}
			if string(s.Quality) == qualityHint {
				return s, true
			}
		}
	}

	if formatHint != "" {
		for _, s := range streams {
			if strings.EqualFold(s.Container, formatHint) {
				return s, true
			}
		}
	}

	sorted := make([]media.StreamDescriptor, len(streams))
	copy(sorted, streams)
	media.SortByQuality(sorted)
	return sorted[0], true
}

// downloadProgress binds the engine's byte observations to the job
// record and fans them out. Percent is clamped to 99 while the
// transfer runs; 100 is set only on completion. It never regresses,
// including across engine retries that restart the byte count.
func (o *Orchestrator) downloadProgress(jobID string, opts DownloadOptions) downloader.ProgressFunc {
	return func(p downloader.Progress) {
		snapshot, ok := o.jobs.update(jobID, func(j *DownloadJob) {
			j.BytesDownloaded = p.BytesDownloaded
			j.TotalBytes = p.TotalBytes
			j.Speed = p.BytesPerSecond
			if p.TotalBytes > 0 {
				percent := int(p.BytesDownloaded * 100 / p.TotalBytes)
				if percent > 99 {
					percent = 99
				}
				if percent > j.Percent {
					j.Percent = percent
				}
			}
			j.UpdatedAt = time.Now().UTC()
		})
		if !ok {
			return
		}
		if o.sink != nil {
			o.sink.DownloadProgress(snapshot)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(snapshot)
		}
	}
}

// remuxProgress maps transcoder percent into the job record for
// playlist pulls, where the transcoder is the transfer.
func (o *Orchestrator) remuxProgress(jobID string, opts DownloadOptions) converter.ProgressFunc {
	return func(percent int) {
		snapshot, ok := o.jobs.update(jobID, func(j *DownloadJob) {
			if percent > 99 {
				percent = 99
			}
			if percent > j.Percent {
				j.Percent = percent
			}
			j.UpdatedAt = time.Now().UTC()
		})
		if !ok {
			return
		}
		if o.sink != nil {
			o.sink.DownloadProgress(snapshot)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(snapshot)
		}
	}
}

// conversionProgress forwards transcoding percent to the caller. The
// job's own percent holds at its download value until completion.
func (o *Orchestrator) conversionProgress(jobID string, opts DownloadOptions) converter.ProgressFunc {
	return func(percent int) {
		if opts.OnConversion != nil {
			opts.OnConversion(percent)
		}
		o.jobs.update(jobID, func(j *DownloadJob) {
			j.UpdatedAt = time.Now().UTC()
		})
	}
}
