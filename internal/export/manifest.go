package export

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"course-harvest/internal/domain"
)

// Manifest is the YAML document describing one crawl run.
type Manifest struct {
	RunID       string           `yaml:"run_id"`
	Platform    string           `yaml:"platform"`
	GeneratedAt time.Time        `yaml:"generated_at"`
	Courses     []ManifestCourse `yaml:"courses"`
}

type ManifestCourse struct {
	ID      string           `yaml:"id"`
	Name    string           `yaml:"name"`
	Slug    string           `yaml:"slug,omitempty"`
	URL     string           `yaml:"url,omitempty"`
	Image   string           `yaml:"image,omitempty"`
	Modules []ManifestModule `yaml:"modules"`
}

type ManifestModule struct {
	ID      string           `yaml:"id"`
	Name    string           `yaml:"name"`
	Lessons []ManifestLesson `yaml:"lessons"`
}

type ManifestLesson struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Video       *domain.AssetRef  `yaml:"video,omitempty"`
	Attachments []domain.AssetRef `yaml:"attachments,omitempty"`
}

// NewManifest converts course trees into the manifest layout.
func NewManifest(runID, platform string, at time.Time, trees []domain.CourseTree) Manifest {
	m := Manifest{RunID: runID, Platform: platform, GeneratedAt: at.UTC(), Courses: []ManifestCourse{}}
	for _, t := range trees {
		mc := ManifestCourse{
			ID:      t.Course.ID,
			Name:    t.Course.Name,
			Slug:    t.Course.Slug,
			URL:     t.Course.URL,
			Image:   t.Course.Image,
			Modules: make([]ManifestModule, 0, len(t.Modules)),
		}
		for _, mod := range t.Modules {
			mm := ManifestModule{ID: mod.ID, Name: mod.Name, Lessons: make([]ManifestLesson, 0, len(mod.Lessons))}
			for _, l := range mod.Lessons {
				ml := ManifestLesson{ID: l.ID, Name: l.Name}
				if l.Asset != nil && l.Asset.Type == domain.AssetVideo {
					v := *l.Asset
					ml.Video = &v
				}
				for _, s := range l.Supplementary {
					if s.Type == domain.AssetFile {
						ml.Attachments = append(ml.Attachments, s)
					}
				}
				mm.Lessons = append(mm.Lessons, ml)
			}
			mc.Modules = append(mc.Modules, mm)
		}
		m.Courses = append(m.Courses, mc)
	}
	return m
}

// WriteTreeYAML encodes the manifest with two-space indentation.
func WriteTreeYAML(w io.Writer, m Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("export: encode manifest: %w", err)
	}
	return enc.Close()
}
