package udemy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"course-harvest/internal/domain"
	"course-harvest/internal/httpx"
	"course-harvest/internal/logging"
	"course-harvest/internal/session"
)

const (
	curriculumPageSize = 200
	defaultPageSize    = 100
)

// Client talks to the platform's JSON API with an authenticated session.
type Client struct {
	BaseURL  string
	PageSize int
	HTTP     *http.Client
	Retry    httpx.RetryConfig

	session *session.Session
	limiter *rate.Limiter
	logger  *log.Logger
}

// New builds a client. rps <= 0 disables request pacing.
func New(baseURL string, sess *session.Session, rps float64, logger *log.Logger) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		PageSize: defaultPageSize,
		HTTP: &http.Client{
			Timeout: 2 * time.Minute, // por-request
		},
		Retry:   httpx.DefaultRetryConfig(),
		session: sess,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

func (c *Client) retryConfig() httpx.RetryConfig {
	cfg := c.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
			c.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying request")
		}
	}
	return cfg
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	if c.session == nil {
		return domain.ErrNotAuthenticated
	}
	// pequeño rate limit para que no nos tire 429
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := httpx.DoJSON(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		c.session.Apply(req)
		return req, nil
	}, out, c.retryConfig())
	if httpx.IsChallenge(err) {
		return fmt.Errorf("%w: %w", domain.ErrSessionChallenged, err)
	}
	return err
}

// paginate walks a cursor listing. The first URL carries the query; every
// following page is requested exactly as the server's next link says.
func paginate[T any](ctx context.Context, c *Client, op, first string, each func([]T)) error {
	next := first
	for n := 1; next != ""; n++ {
		var p page[T]
		if err := c.getJSON(ctx, next, &p); err != nil {
			return &domain.NetworkError{Op: op, URL: next, Err: err}
		}
		c.logger.Debug().Str("op", op).Int("page", n).Int("results", len(p.Results)).Int("total", p.Count).Msg("page fetched")
		each(p.Results)
		next = p.Next
	}
	return nil
}

/* -------- catalog -------- */

// ListCourses returns every subscribed course, or an error and nothing.
func (c *Client) ListCourses(ctx context.Context) ([]domain.Course, error) {
	u, err := url.Parse(c.BaseURL + "/api-2.0/users/me/subscribed-courses/")
	if err != nil {
		return nil, fmt.Errorf("udemy: invalid base url: %w", err)
	}
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	q := u.Query()
	q.Set("ordering", "-last_accessed")
	q.Set("fields[course]", "id,title,url,image_480x270")
	q.Set("page", "1")
	q.Set("page_size", strconv.Itoa(pageSize))
	q.Set("is_archived", "false")
	u.RawQuery = q.Encode()

	host := deriveHost(c.BaseURL)
	var all []domain.Course
	err = paginate(ctx, c, "list courses", u.String(), func(results []courseResult) {
		for _, r := range results {
			all = append(all, domain.Course{
				ID:    string(r.ID),
				Name:  r.Title,
				URL:   absolutizeURL(host, r.URL),
				Image: r.Image,
				Slug:  slugFromURL(r.URL),
			})
		}
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().Int("courses", len(all)).Msg("catalog fetched")
	return all, nil
}

/* -------- curriculum -------- */

// FetchCurriculum returns the flat curriculum feed of a course in feed order.
func (c *Client) FetchCurriculum(ctx context.Context, courseID string) ([]domain.CurriculumItem, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api-2.0/courses/%s/subscriber-curriculum-items/", c.BaseURL, url.PathEscape(courseID)))
	if err != nil {
		return nil, fmt.Errorf("udemy: invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("curriculum_types", "chapter,lecture,quiz,practice")
	q.Set("page_size", strconv.Itoa(curriculumPageSize))
	q.Set("fields[lecture]", "title,object_index,is_published,sort_order,created,asset,supplementary_assets")
	q.Set("fields[chapter]", "title,object_index,is_published,sort_order")
	q.Set("fields[asset]", "title,filename,asset_type,status,time_estimation,is_external")
	q.Set("caching_intent", "True")
	u.RawQuery = q.Encode()

	var items []domain.CurriculumItem
	err = paginate(ctx, c, "fetch curriculum", u.String(), func(results []curriculumResult) {
		for _, r := range results {
			items = append(items, domain.CurriculumItem{
				Class:         r.Class,
				ID:            string(r.ID),
				Title:         r.Title,
				Asset:         r.Asset,
				Supplementary: r.Supplementary,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

/* -------- assets -------- */

func (c *Client) fetchAsset(ctx context.Context, id int64, fields string) (assetResult, error) {
	u := fmt.Sprintf("%s/api-2.0/assets/%d/?%s", c.BaseURL, id, url.Values{"fields[asset]": {fields}}.Encode())
	var a assetResult
	err := c.getJSON(ctx, u, &a)
	return a, err
}

// ResolveVideo picks the highest-resolution stream of a video asset, falling
// back to its first download link. It returns nil when neither exists or the
// asset cannot be fetched.
func (c *Client) ResolveVideo(ctx context.Context, lessonName string, ref domain.AssetRef) *domain.Video {
	a, err := c.fetchAsset(ctx, ref.ID, "stream_urls,download_urls,media_sources")
	if err != nil {
		c.logger.Error().Err(err).Int64("asset_id", ref.ID).Msg("fetch video asset")
		return nil
	}

	src, quality, ok := pickVideoURL(a)
	if !ok {
		c.logger.Warn().Int64("asset_id", ref.ID).Str("lesson", lessonName).Msg("video asset has no usable source")
		return nil
	}
	return &domain.Video{
		ID:       strconv.FormatInt(ref.ID, 10),
		URL:      src,
		Title:    lessonName + " - " + quality,
		Duration: ref.TimeEstimation,
		Order:    1,
	}
}

// ResolveAttachment returns the first file download link of a supplementary
// asset, or nil.
func (c *Client) ResolveAttachment(ctx context.Context, ref domain.AssetRef, order int) *domain.Attachment {
	a, err := c.fetchAsset(ctx, ref.ID, "download_urls")
	if err != nil {
		c.logger.Debug().Err(err).Int64("asset_id", ref.ID).Msg("fetch attachment asset")
		return nil
	}
	files := a.DownloadURLs[domain.AssetFile]
	if len(files) == 0 || files[0].File == "" {
		return nil
	}
	return &domain.Attachment{
		ID:        strconv.FormatInt(ref.ID, 10),
		URL:       files[0].File,
		Filename:  ref.Filename,
		Extension: extension(ref.Filename),
		Order:     order,
	}
}

func pickVideoURL(a assetResult) (src, quality string, ok bool) {
	if best, found := bestMediaSource(a.MediaSources); found {
		return best.Src, string(best.Label), best.Src != ""
	}
	if videos := a.DownloadURLs[domain.AssetVideo]; len(videos) > 0 && videos[0].File != "" {
		return videos[0].File, "Download", true
	}
	return "", "", false
}

// bestMediaSource returns the source with the highest numeric label. Ties
// keep the earliest; labels that do not parse count as 0.
func bestMediaSource(sources []mediaSource) (mediaSource, bool) {
	best := -1
	var pick mediaSource
	found := false
	for _, s := range sources {
		if res := labelResolution(string(s.Label)); res > best {
			best = res
			pick = s
			found = true
		}
	}
	return pick, found
}

func labelResolution(label string) int {
	if label == "" {
		label = "0"
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.ReplaceAll(label, "p", "")))
	if err != nil {
		return 0
	}
	return n
}

/* -------- helpers -------- */

func deriveHost(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "https://www.udemy.com"
	}
	return u.Scheme + "://" + u.Host
}

func absolutizeURL(host, in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	if strings.HasPrefix(in, "http://") || strings.HasPrefix(in, "https://") {
		return in
	}
	if strings.HasPrefix(in, "/") {
		return host + in
	}
	return host + "/" + in
}

// slugFromURL takes the second-to-last segment of "/course/<slug>/learn/".
func slugFromURL(u string) string {
	parts := strings.Split(strings.Trim(u, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

func extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return filename[i+1:]
}
