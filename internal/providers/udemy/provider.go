package udemy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/phuslu/log"

	"course-harvest/internal/auth"
	"course-harvest/internal/concurrency"
	"course-harvest/internal/domain"
	"course-harvest/internal/download"
	"course-harvest/internal/logging"
	"course-harvest/internal/providers"
	"course-harvest/internal/session"
)

const (
	DefaultBaseURL  = "https://www.udemy.com"
	DefaultLoginURL = "https://www.udemy.com/join/login-popup/?locale=en_US&response_type=html&next=https%3A%2F%2Fwww.udemy.com%2F"
)

// Endpoints whose outgoing requests carry the user's credentials.
var credentialEndpoints = []string{"api-2.0/users/me"}

// LoginProbe recognizes a logged-in Udemy page.
var LoginProbe = auth.LoginProbe{
	LoginURLFragment: "udemy.com/join",
	Selectors: []string{
		`[data-purpose="header-user-avatar"]`,
		`a[href*="/home/my-courses/"]`,
	},
}

type Options struct {
	BaseURL           string
	LoginURL          string
	UserAgent         string
	AcceptLanguage    string
	PageSize          int
	RequestsPerSecond float64
	Workers           int

	AuthTimeout  time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration

	// Launcher opens the login browser. Nil means a visible local Chrome.
	Launcher auth.Launcher
	// DownloadHTTP is used for file transfers; nil means no overall timeout.
	DownloadHTTP *http.Client
}

// Provider adapts the Udemy client into the providers.Platform interface.
type Provider struct {
	opts   Options
	logger *log.Logger

	mu         sync.RWMutex
	client     *Client
	downloader *download.Downloader
}

var _ providers.Platform = (*Provider)(nil)

func NewProvider(opts Options, logger *log.Logger) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.LoginURL == "" {
		opts.LoginURL = DefaultLoginURL
	}
	if opts.Launcher == nil {
		opts.Launcher = auth.ChromeLauncher{UserAgent: opts.UserAgent}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provider{opts: opts, logger: logging.With(logger, "platform", "udemy")}
}

func (p *Provider) Name() string { return "udemy" }

func (p *Provider) sessionOptions() session.Options {
	return session.Options{
		UserAgent:      p.opts.UserAgent,
		AcceptLanguage: p.opts.AcceptLanguage,
		Referer:        deriveHost(p.opts.BaseURL) + "/home/my-courses/learning/",
	}
}

// Authenticate builds the API session. A supplied token is used as-is;
// otherwise the interactive browser login runs, which requires browser
// emulation to be enabled.
func (p *Provider) Authenticate(ctx context.Context, creds providers.Credentials) error {
	var sess *session.Session
	switch {
	case creds.Token != "":
		sess = session.BuildRaw(creds.Token, p.sessionOptions())
		p.logger.Info().Str("kind", sess.Kind().String()).Msg("using supplied token")
	case !creds.BrowserEmulation:
		return domain.ErrAuthenticationRejected
	default:
		ctrl := auth.NewController(p.opts.Launcher, LoginProbe, p.logger)
		if p.opts.PollInterval > 0 {
			ctrl.PollInterval = p.opts.PollInterval
		}
		if p.opts.SettleDelay > 0 {
			ctrl.SettleDelay = p.opts.SettleDelay
		}
		art, err := ctrl.Acquire(ctx, auth.AcquireRequest{
			LoginURL:  p.opts.LoginURL,
			Endpoints: credentialEndpoints,
			Timeout:   p.opts.AuthTimeout,
			Confirm:   creds.Confirm,
		})
		if err != nil {
			return fmt.Errorf("udemy: browser login: %w", err)
		}
		sess = session.Build(art, p.sessionOptions())
	}

	client := New(p.opts.BaseURL, sess, p.opts.RequestsPerSecond, p.logger)
	if p.opts.PageSize > 0 {
		client.PageSize = p.opts.PageSize
	}

	p.mu.Lock()
	p.client = client
	p.downloader = download.New(p.opts.DownloadHTTP, sess, p.logger)
	p.mu.Unlock()
	return nil
}

func (p *Provider) api() (*Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, domain.ErrNotAuthenticated
	}
	return p.client, nil
}

func (p *Provider) ListCourses(ctx context.Context) ([]domain.Course, error) {
	c, err := p.api()
	if err != nil {
		return nil, err
	}
	return c.ListCourses(ctx)
}

// BuildContentTree fetches and folds each course's curriculum on the worker
// pool. Courses that fail are logged and left out; the rest keep input order.
func (p *Provider) BuildContentTree(ctx context.Context, courses []domain.Course) ([]domain.CourseTree, error) {
	c, err := p.api()
	if err != nil {
		return nil, err
	}

	opts := concurrency.DefaultOptions()
	if p.opts.Workers > 0 {
		opts.MaxWorkers = p.opts.Workers
	}

	results, errs := concurrency.ProcessParallel(ctx, courses, opts,
		func(ctx context.Context, _ int, course domain.Course) (*domain.CourseTree, error) {
			items, err := c.FetchCurriculum(ctx, course.ID)
			if err != nil {
				return nil, err
			}
			return &domain.CourseTree{Course: course, Modules: BuildModules(course, items)}, nil
		})

	for _, err := range errs {
		var ie *concurrency.ItemError
		if errors.As(err, &ie) {
			p.logger.Error().Err(ie.Err).Str("course", courses[ie.Index].Name).Msg("fetch curriculum; skipping course")
		}
	}

	trees := make([]domain.CourseTree, 0, len(results))
	for _, t := range results {
		if t != nil {
			trees = append(trees, *t)
		}
	}
	if err := ctx.Err(); err != nil {
		return trees, err
	}
	return trees, nil
}

// ResolveLesson turns the lesson's asset references into downloadable
// entries. Only "Video" main assets and "File" supplementary assets are
// considered.
func (p *Provider) ResolveLesson(ctx context.Context, lesson domain.Lesson) domain.Lesson {
	c, err := p.api()
	if err != nil {
		p.logger.Error().Err(err).Str("lesson", lesson.Name).Msg("resolve lesson")
		return lesson
	}

	out := lesson
	out.Video = nil
	out.Attachments = nil

	if a := lesson.Asset; a != nil && a.Type == domain.AssetVideo && a.ID != 0 {
		out.Video = c.ResolveVideo(ctx, lesson.Name, *a)
	}
	for i, s := range lesson.Supplementary {
		if s.Type != domain.AssetFile {
			continue
		}
		if att := c.ResolveAttachment(ctx, s, i+1); att != nil {
			out.Attachments = append(out.Attachments, *att)
		}
	}
	return out
}

func (p *Provider) Download(ctx context.Context, url, dest string) (int64, error) {
	p.mu.RLock()
	d := p.downloader
	p.mu.RUnlock()
	if d == nil {
		return 0, domain.ErrNotAuthenticated
	}
	return d.Fetch(ctx, url, dest)
}
