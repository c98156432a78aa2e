package udemy

import (
	"bytes"
	"encoding/json"

	"course-harvest/internal/domain"
)

// page is one page of any cursor-paginated listing.
type page[T any] struct {
	Count   int    `json:"count"`
	Next    string `json:"next"`
	Results []T    `json:"results"`
}

type courseResult struct {
	ID    FlexString `json:"id"`
	Title string     `json:"title"`
	URL   string     `json:"url"`
	Image string     `json:"image_480x270"`
}

type curriculumResult struct {
	Class         string            `json:"_class"`
	ID            FlexString        `json:"id"`
	Title         string            `json:"title"`
	Asset         *domain.AssetRef  `json:"asset"`
	Supplementary []domain.AssetRef `json:"supplementary_assets"`
}

type assetResult struct {
	MediaSources []mediaSource            `json:"media_sources"`
	DownloadURLs map[string][]downloadURL `json:"download_urls"`
}

type mediaSource struct {
	Label FlexString `json:"label"`
	Src   string     `json:"src"`
	Type  string     `json:"type"`
}

type downloadURL struct {
	Label FlexString `json:"label"`
	File  string     `json:"file"`
}

// FlexString accepts a JSON string or number:
// - "720" / "720p" (string)
// - 720 (number)
// - null
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}

	// string
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}

	// number
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// UnmarshalJSON tolerates download_urls as null, an object, or an empty
// list for assets without downloads.
func (a *assetResult) UnmarshalJSON(b []byte) error {
	var raw struct {
		MediaSources []mediaSource   `json:"media_sources"`
		DownloadURLs json.RawMessage `json:"download_urls"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.MediaSources = raw.MediaSources
	a.DownloadURLs = nil

	d := bytes.TrimSpace(raw.DownloadURLs)
	if len(d) > 0 && d[0] == '{' {
		var m map[string][]downloadURL
		if err := json.Unmarshal(d, &m); err != nil {
			return err
		}
		a.DownloadURLs = m
	}
	return nil
}
