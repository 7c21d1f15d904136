package reasoning

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/harun/stepwise/pkg/agent"
)

// Attachment describes one request file.
type Attachment struct {
	Path   string `json:"image_path"`
	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// IsImage reports whether the file decoded as a supported image.
func (a Attachment) IsImage() bool {
	return a.Format != ""
}

func (a Attachment) String() string {
	if !a.IsImage() {
		return "File: " + a.Path
	}
	return fmt.Sprintf("Image: %s, Width: %d, Height: %d", a.Path, a.Width, a.Height)
}

// Inspect describes each path. Images in PNG, JPEG or GIF format get their
// dimensions; anything else, missing files included, keeps only the path.
func Inspect(paths []string) []Attachment {
	out := make([]Attachment, 0, len(paths))
	for _, p := range paths {
		out = append(out, inspect(p))
	}
	return out
}

func inspect(path string) Attachment {
	a := Attachment{Path: path}
	f, err := os.Open(path)
	if err != nil {
		return a
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return a
	}
	a.Format = format
	a.Width = cfg.Width
	a.Height = cfg.Height
	return a
}

func describeAttachments(atts []Attachment) string {
	if len(atts) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(atts))
	for _, a := range atts {
		lines = append(lines, a.String())
	}
	return strings.Join(lines, "\n")
}

func attachmentPaths(atts []Attachment) string {
	paths := make([]string, 0, len(atts))
	for _, a := range atts {
		paths = append(paths, a.Path)
	}
	return strings.Join(paths, ",")
}

// loadImages reads the image attachments for inline delivery.
func loadImages(atts []Attachment) ([]agent.Image, error) {
	var images []agent.Image
	for _, a := range atts {
		if !a.IsImage() {
			continue
		}
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return images, fmt.Errorf("failed to read image %s: %w", a.Path, err)
		}
		images = append(images, agent.Image{MIMEType: "image/" + a.Format, Data: data})
	}
	return images, nil
}
