package domain

// Course is one entry of the user's subscribed-course catalog.
type Course struct {
	ID    string
	Name  string
	URL   string // absolute course page URL
	Image string
	Slug  string // second-to-last path segment of the relative URL
}

// Item classes of the curriculum feed. Anything else is ignored by the tree builder.
const (
	ClassChapter = "chapter"
	ClassLecture = "lecture"
)

// Asset types the resolver acts on.
const (
	AssetVideo = "Video"
	AssetFile  = "File"
)

// AssetRef is a lazy reference to a platform asset, as embedded in the
// curriculum feed. It carries no downloadable URL yet.
type AssetRef struct {
	ID             int64  `json:"id" yaml:"id"`
	Type           string `json:"asset_type" yaml:"type"`
	Title          string `json:"title" yaml:"title,omitempty"`
	Filename       string `json:"filename" yaml:"filename,omitempty"`
	TimeEstimation int    `json:"time_estimation" yaml:"time_estimation,omitempty"`
}

// CurriculumItem is one flat row of a course's curriculum feed.
// Feed order is significant.
type CurriculumItem struct {
	Class         string
	ID            string
	Title         string
	Asset         *AssetRef
	Supplementary []AssetRef
}

type Module struct {
	ID      string
	Name    string
	Lessons []Lesson
}

// Lesson holds the raw asset references from the feed and, once resolved,
// the downloadable Video and Attachments.
type Lesson struct {
	ID            string
	Name          string
	Asset         *AssetRef
	Supplementary []AssetRef

	Video       *Video
	Attachments []Attachment
}

// Resolved reports whether the lesson yielded anything downloadable.
func (l Lesson) Resolved() bool {
	return l.Video != nil || len(l.Attachments) > 0
}

type Video struct {
	ID       string
	URL      string
	Title    string // "{lesson name} - {quality label}"
	Duration int    // seconds, as estimated by the platform
	Order    int
}

type Attachment struct {
	ID        string
	URL       string
	Filename  string
	Extension string
	Order     int
}

// CourseTree is a course together with its folded module/lesson hierarchy.
type CourseTree struct {
	Course  Course
	Modules []Module
}

// LessonCount returns the number of lessons across all modules.
func (t CourseTree) LessonCount() int {
	n := 0
	for _, m := range t.Modules {
		n += len(m.Lessons)
	}
	return n
}
