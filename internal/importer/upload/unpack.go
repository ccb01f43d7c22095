// Package upload turns submitted files into the ordered page list the
// import pipeline consumes.
package upload

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
)

// ErrNoPages is returned when an archive contains no usable page images.
var ErrNoPages = errors.New("no page images in archive")

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ContentTypeFor maps a filename to its image MIME type, empty when the
// extension is not a supported page image.
func ContentTypeFor(name string) string {
	return imageTypes[strings.ToLower(path.Ext(name))]
}

// FromZip unpacks a zip archive into ordered pages. Entries are ordered by
// name, so scanner output like page-001.jpg … page-025.jpg keeps its
// reading order. Non-image entries and directory metadata are skipped.
func FromZip(data []byte) ([]domain.Page, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var files []*zip.File
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		name := path.Base(f.Name)
		if strings.HasPrefix(name, ".") {
			continue
		}
		if ContentTypeFor(name) == "" {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, ErrNoPages
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	pages := make([]domain.Page, 0, len(files))
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read archive entry %s: %w", f.Name, err)
		}
		pages = append(pages, domain.Page{
			Name:        path.Base(f.Name),
			ContentType: ContentTypeFor(f.Name),
			Data:        data,
		})
	}
	return pages, nil
}
