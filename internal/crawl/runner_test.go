package crawl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-harvest/internal/domain"
	"course-harvest/internal/progress"
	"course-harvest/internal/providers"
)

type fakePlatform struct {
	authErr  error
	courses  []domain.Course
	trees    map[string]domain.CourseTree
	failURLs map[string]bool

	// onDownload runs before each download is written.
	onDownload func(url string)

	mu        sync.Mutex
	built     []string
	downloads []string
	ctxErrs   []error
}

func (p *fakePlatform) Name() string { return "fake" }

func (p *fakePlatform) Authenticate(context.Context, providers.Credentials) error { return p.authErr }

func (p *fakePlatform) ListCourses(context.Context) ([]domain.Course, error) { return p.courses, nil }

func (p *fakePlatform) BuildContentTree(_ context.Context, courses []domain.Course) ([]domain.CourseTree, error) {
	var out []domain.CourseTree
	for _, c := range courses {
		p.built = append(p.built, c.ID)
		if t, ok := p.trees[c.ID]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// ResolveLesson turns asset ids into fake URLs.
func (p *fakePlatform) ResolveLesson(_ context.Context, l domain.Lesson) domain.Lesson {
	if l.Asset != nil && l.Asset.Type == domain.AssetVideo {
		l.Video = &domain.Video{URL: "video://" + l.ID, Title: l.Name + " - 1080", Order: 1}
	}
	for i, s := range l.Supplementary {
		l.Attachments = append(l.Attachments, domain.Attachment{URL: "file://" + s.Filename, Filename: s.Filename, Order: i + 1})
	}
	return l
}

func (p *fakePlatform) Download(ctx context.Context, url, dest string) (int64, error) {
	if p.onDownload != nil {
		p.onDownload(url)
	}
	p.mu.Lock()
	p.downloads = append(p.downloads, url)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	p.mu.Unlock()

	if p.failURLs[url] {
		return 0, errors.New("status=403")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	body := []byte("data:" + url)
	return int64(len(body)), os.WriteFile(dest, body, 0o644)
}

func video(id, name string) domain.Lesson {
	return domain.Lesson{ID: id, Name: name, Asset: &domain.AssetRef{ID: 1, Type: domain.AssetVideo}}
}

func newFake() *fakePlatform {
	return &fakePlatform{
		courses: []domain.Course{
			{ID: "1", Name: "Go", Slug: "go"},
			{ID: "2", Name: "Rust", Slug: "rust"},
		},
		trees: map[string]domain.CourseTree{
			"1": {Course: domain.Course{ID: "1", Name: "Go", Slug: "go"}, Modules: []domain.Module{
				{ID: "m1", Name: "Start", Lessons: []domain.Lesson{
					video("l1", "Hello"),
					{ID: "l2", Name: "Files", Supplementary: []domain.AssetRef{{ID: 5, Type: domain.AssetFile, Filename: "code.zip"}}},
				}},
			}},
			"2": {Course: domain.Course{ID: "2", Name: "Rust", Slug: "rust"}, Modules: []domain.Module{
				{ID: "m2", Name: "Ownership", Lessons: []domain.Lesson{
					video("l3", "Borrow"),
					{ID: "l4", Name: "Quiz only"},
				}},
			}},
		},
	}
}

type recordingUploader struct {
	mu   sync.Mutex
	rels []string
}

func (u *recordingUploader) Upload(_ context.Context, _ string, rel string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rels = append(u.rels, rel)
	return "/remote/" + rel, nil
}

func TestRunDownloadsEverything(t *testing.T) {
	out := t.TempDir()
	p := newFake()
	sink := progress.NewChanSink(64)
	mirror := &recordingUploader{}

	r := NewRunner(p, Options{OutputDir: out, Workers: 2, ExportManifest: true}, nil).WithProgress(sink).WithMirror(mirror)
	sum, err := r.Run(context.Background(), providers.Credentials{Token: "t"})
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 2, sum.Courses)
	assert.Equal(t, 4, sum.Lessons)
	assert.Equal(t, 3, sum.Files)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 5, sum.Uploaded)
	assert.False(t, sum.FinishedAt.Before(sum.StartedAt))

	b, err := os.ReadFile(filepath.Join(out, "go", "01 - Start", "01 - Hello", "Hello - 1080.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "data:video://l1", string(b))
	assert.FileExists(t, filepath.Join(out, "go", "01 - Start", "02 - Files", "code.zip"))
	assert.FileExists(t, filepath.Join(out, "rust", "01 - Ownership", "01 - Borrow", "Borrow - 1080.mp4"))

	assert.FileExists(t, filepath.Join(out, ManifestFile))
	assert.FileExists(t, filepath.Join(out, IndexFile))
	assert.Equal(t, filepath.Join(out, ManifestFile), sum.Manifest)

	sort.Strings(mirror.rels)
	assert.Equal(t, []string{
		"go/01 - Start/01 - Hello/Hello - 1080.mp4",
		"go/01 - Start/02 - Files/code.zip",
		IndexFile,
		ManifestFile,
		"rust/01 - Ownership/01 - Borrow/Borrow - 1080.mp4",
	}, mirror.rels)

	var lessons, totals, dones int
	for len(sink.C) > 0 {
		switch (<-sink.C).Kind {
		case progress.KindLesson:
			lessons++
		case progress.KindTotal:
			totals++
		case progress.KindDone:
			dones++
		}
	}
	assert.Equal(t, 4, lessons)
	assert.Equal(t, 1, totals)
	assert.Equal(t, 1, dones)
}

func TestRunCourseFilter(t *testing.T) {
	p := newFake()
	r := NewRunner(p, Options{OutputDir: t.TempDir(), Courses: []string{"RUST"}}, nil)

	sum, err := r.Run(context.Background(), providers.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Courses)
	assert.Equal(t, []string{"2"}, p.built)
}

func TestRunCourseFilterNoMatch(t *testing.T) {
	p := newFake()
	r := NewRunner(p, Options{OutputDir: t.TempDir(), Courses: []string{"python"}}, nil)

	_, err := r.Run(context.Background(), providers.Credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no course matches python")
	assert.Empty(t, p.built)
}

func TestRunDryRun(t *testing.T) {
	out := t.TempDir()
	p := newFake()
	mirror := &recordingUploader{}
	r := NewRunner(p, Options{OutputDir: out, DryRun: true, ExportManifest: true}, nil).WithMirror(mirror)

	sum, err := r.Run(context.Background(), providers.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Lessons)
	assert.Zero(t, sum.Files)
	assert.Empty(t, p.downloads)
	assert.FileExists(t, filepath.Join(out, ManifestFile))

	// the exports are mirrored even when nothing is downloaded
	assert.Equal(t, []string{ManifestFile, IndexFile}, mirror.rels)
	assert.Equal(t, 2, sum.Uploaded)
}

func TestRunAuthFailure(t *testing.T) {
	p := newFake()
	p.authErr = domain.ErrAuthenticationRejected
	r := NewRunner(p, Options{OutputDir: t.TempDir()}, nil)

	_, err := r.Run(context.Background(), providers.Credentials{})
	require.ErrorIs(t, err, domain.ErrAuthenticationRejected)
	assert.Empty(t, p.built)
}

func TestRunLessonFailureDoesNotStopOthers(t *testing.T) {
	p := newFake()
	p.failURLs = map[string]bool{"video://l1": true}
	r := NewRunner(p, Options{OutputDir: t.TempDir(), Workers: 1}, nil)

	sum, err := r.Run(context.Background(), providers.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Files)
	assert.Len(t, p.downloads, 3)
}

func TestRunCancelStopsDispatch(t *testing.T) {
	p := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.onDownload = func(string) { cancel() }

	r := NewRunner(p, Options{OutputDir: t.TempDir(), Workers: 1}, nil)
	sum, err := r.Run(ctx, providers.Credentials{})
	require.ErrorIs(t, err, context.Canceled)

	// the transfer that was running when cancel fired still completed
	assert.Len(t, p.downloads, 1)
	assert.Equal(t, 1, sum.Files)
	assert.NoError(t, p.ctxErrs[0])
}

func TestSelectCourses(t *testing.T) {
	catalog := []domain.Course{{ID: "1", Slug: "go"}, {ID: "2", Slug: "rust"}, {ID: "3"}}

	got, err := selectCourses(catalog, nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = selectCourses(catalog, []string{"3", "go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, []string{got[0].ID, got[1].ID})

	_, err = selectCourses(catalog, []string{""})
	require.Error(t, err)
}
