// Package crawl runs the authenticate, list, build-tree, resolve and download
// pipeline against a platform.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/phuslu/log"

	"course-harvest/internal/concurrency"
	"course-harvest/internal/domain"
	"course-harvest/internal/export"
	"course-harvest/internal/logging"
	"course-harvest/internal/progress"
	"course-harvest/internal/providers"
)

const (
	ManifestFile = "manifest.yaml"
	IndexFile    = "lessons.csv"
)

// Uploader receives every downloaded file; rel is slash-separated and
// relative to the output directory.
type Uploader interface {
	Upload(ctx context.Context, localPath, rel string) (string, error)
}

type Options struct {
	OutputDir      string
	Workers        int
	Courses        []string // ids or slugs; empty selects every course
	DryRun         bool     // stop after the manifest
	ExportManifest bool
}

type Summary struct {
	RunID      string
	Courses    int
	Lessons    int
	Skipped    int // nothing downloadable
	Failed     int // at least one file failed
	Files      int
	Bytes      int64
	Uploaded   int
	OutputDir  string
	Manifest   string
	Index      string
	StartedAt  time.Time
	FinishedAt time.Time
}

type Runner struct {
	platform providers.Platform
	opts     Options
	sink     progress.Sink
	mirror   Uploader
	logger   *log.Logger
	now      func() time.Time
}

func NewRunner(p providers.Platform, opts Options, logger *log.Logger) *Runner {
	if opts.OutputDir == "" {
		opts.OutputDir = "downloads"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{platform: p, opts: opts, sink: progress.Discard, logger: logger, now: time.Now}
}

// WithProgress sets the progress sink; events are also logged.
func (r *Runner) WithProgress(s progress.Sink) *Runner {
	r.sink = s
	return r
}

// WithMirror uploads every downloaded file through u.
func (r *Runner) WithMirror(u Uploader) *Runner {
	r.mirror = u
	return r
}

// job is one lesson with its position in the tree.
type job struct {
	course domain.Course
	module domain.Module
	lesson domain.Lesson
	dir    string
}

// Run executes one crawl. Authentication and catalog failures abort the
// run; a failing course or lesson is logged and skipped. On cancellation no
// new lesson is started and Run returns the context error with the partial
// summary.
func (r *Runner) Run(ctx context.Context, creds providers.Credentials) (sum Summary, err error) {
	runID := uuid.New().String()
	logger := logging.With(r.logger, "run_id", runID)
	tracker := progress.NewTracker(progress.Multi(progress.LogSink{Logger: logger}, r.sink))

	sum = Summary{RunID: runID, OutputDir: r.opts.OutputDir, StartedAt: r.now()}
	defer func() { sum.FinishedAt = r.now() }()

	logger.Info().Str("platform", r.platform.Name()).Msg("authenticating")
	if err := r.platform.Authenticate(ctx, creds); err != nil {
		return sum, fmt.Errorf("crawl: authenticate: %w", err)
	}

	catalog, err := r.platform.ListCourses(ctx)
	if err != nil {
		return sum, fmt.Errorf("crawl: list courses: %w", err)
	}
	courses, err := selectCourses(catalog, r.opts.Courses)
	if err != nil {
		return sum, err
	}
	sum.Courses = len(courses)
	logger.Info().Int("catalog", len(catalog)).Int("selected", len(courses)).Msg("courses selected")

	trees, err := r.platform.BuildContentTree(ctx, courses)
	if err != nil {
		return sum, fmt.Errorf("crawl: build content tree: %w", err)
	}
	// seguimos con los cursos que sí se pudieron leer
	if len(trees) < len(courses) {
		tracker.Log(log.WarnLevel, "", fmt.Sprintf("%d of %d courses could not be read", len(courses)-len(trees), len(courses)))
	}

	if r.opts.ExportManifest {
		if err := r.writeManifest(runID, trees, &sum); err != nil {
			return sum, err
		}
		logger.Info().Str("manifest", sum.Manifest).Str("index", sum.Index).Msg("manifest written")
		if r.mirror != nil {
			for _, path := range []string{sum.Manifest, sum.Index} {
				if r.upload(ctx, logger, path) {
					sum.Uploaded++
				}
			}
		}
	}

	jobs := r.plan(trees)
	sum.Lessons = len(jobs)
	if r.opts.DryRun {
		logger.Info().Int("lessons", len(jobs)).Msg("dry run; nothing downloaded")
		return sum, nil
	}

	tracker.SetTotal(len(jobs))
	var mu sync.Mutex

	opts := concurrency.DefaultOptions()
	if r.opts.Workers > 0 {
		opts.MaxWorkers = r.opts.Workers
	}
	errs := concurrency.ForEach(ctx, jobs, opts, func(ctx context.Context, _ int, j job) error {
		res := r.runLesson(ctx, logger, j)

		mu.Lock()
		sum.Files += res.files
		sum.Bytes += res.bytes
		sum.Uploaded += res.uploaded
		switch {
		case res.skipped:
			sum.Skipped++
		case res.err != nil:
			sum.Failed++
		}
		mu.Unlock()

		tracker.LessonDone(j.course.Name, j.lesson.Name, res.err)
		return res.err
	})
	for _, e := range errs {
		logger.Debug().Err(e).Msg("lesson error")
	}

	done, total := tracker.Counts()
	tracker.Finish(fmt.Sprintf("downloaded %d files (%s), %d lessons failed, %d skipped",
		sum.Files, humanize.Bytes(uint64(sum.Bytes)), sum.Failed, sum.Skipped))

	if err := ctx.Err(); err != nil {
		logger.Warn().Int("done", done).Int("total", total).Msg("run canceled")
		return sum, err
	}
	return sum, nil
}

type lessonResult struct {
	files    int
	bytes    int64
	uploaded int
	skipped  bool
	err      error
}

// runLesson resolves one lesson and downloads its files. Once a transfer
// starts it is not interrupted by cancellation; remaining files of the
// lesson are not started.
func (r *Runner) runLesson(ctx context.Context, logger *log.Logger, j job) lessonResult {
	var res lessonResult

	lesson := r.platform.ResolveLesson(ctx, j.lesson)
	if !lesson.Resolved() {
		logger.Info().Str("course", j.course.Name).Str("lesson", j.lesson.Name).Msg("nothing downloadable; skipping")
		res.skipped = true
		return res
	}

	type file struct{ url, dest string }
	var files []file
	var video string
	if lesson.Video != nil {
		video = videoFile(*lesson.Video)
		files = append(files, file{lesson.Video.URL, filepath.Join(j.dir, video)})
	}
	for i, name := range attachmentFiles(video, lesson.Attachments) {
		files = append(files, file{lesson.Attachments[i].URL, filepath.Join(j.dir, name)})
	}

	var errs []error
	for _, f := range files {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := r.platform.Download(context.WithoutCancel(ctx), f.url, f.dest)
		if err != nil {
			logger.Error().Err(err).Str("lesson", j.lesson.Name).Str("dest", f.dest).Msg("download failed")
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(f.dest), err))
			continue
		}
		res.files++
		res.bytes += n

		if r.mirror != nil {
			if r.upload(ctx, logger, f.dest) {
				res.uploaded++
			}
		}
	}
	res.err = errors.Join(errs...)
	return res
}

func (r *Runner) upload(ctx context.Context, logger *log.Logger, local string) bool {
	rel, err := filepath.Rel(r.opts.OutputDir, local)
	if err != nil {
		rel = filepath.Base(local)
	}
	remote, err := r.mirror.Upload(context.WithoutCancel(ctx), local, filepath.ToSlash(rel))
	if err != nil {
		logger.Warn().Err(err).Str("file", local).Msg("mirror upload failed")
		return false
	}
	logger.Debug().Str("remote", remote).Msg("mirrored")
	return true
}

func (r *Runner) plan(trees []domain.CourseTree) []job {
	var jobs []job
	for _, t := range trees {
		for mi, m := range t.Modules {
			for li, l := range m.Lessons {
				jobs = append(jobs, job{
					course: t.Course,
					module: m,
					lesson: l,
					dir:    lessonDir(r.opts.OutputDir, t.Course, mi+1, m, li+1, l),
				})
			}
		}
	}
	return jobs
}

func (r *Runner) writeManifest(runID string, trees []domain.CourseTree, sum *Summary) error {
	// asegura dir de salida
	if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("crawl: create output dir: %w", err)
	}

	manifestPath := filepath.Join(r.opts.OutputDir, ManifestFile)
	if err := writeFile(manifestPath, func(f *os.File) error {
		return export.WriteTreeYAML(f, export.NewManifest(runID, r.platform.Name(), r.now(), trees))
	}); err != nil {
		return fmt.Errorf("crawl: write manifest: %w", err)
	}

	indexPath := filepath.Join(r.opts.OutputDir, IndexFile)
	if err := writeFile(indexPath, func(f *os.File) error {
		return export.WriteLessonIndexCSV(f, trees)
	}); err != nil {
		return fmt.Errorf("crawl: write lesson index: %w", err)
	}

	sum.Manifest, sum.Index = manifestPath, indexPath
	return nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// selectCourses keeps catalog order. Filter entries match a course id or,
// case-insensitively, its slug.
func selectCourses(catalog []domain.Course, filter []string) ([]domain.Course, error) {
	if len(filter) == 0 {
		return catalog, nil
	}
	var out []domain.Course
	for _, c := range catalog {
		for _, f := range filter {
			if f == c.ID || (c.Slug != "" && strings.EqualFold(f, c.Slug)) {
				out = append(out, c)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("crawl: no course matches %s", strings.Join(filter, ", "))
	}
	return out, nil
}
