package images

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ImageFile represents an image file in a directory.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the number at the end of the file name, such as 12 for
	// frame-12.jpg, or -1 when the name has none.
	Frame int
}

// ListImageFiles lists the image files of a directory, ordered by frame
// number and then by name.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []ImageFile: The .jpg, .jpeg, .png and .bmp files of dir.
//   - error: Error if the directory cannot be read.
func ListImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read directory")
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp":
			files = append(files, ImageFile{
				Path:  filepath.Join(dir, entry.Name()),
				Frame: frameNumber(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Frame != files[j].Frame {
			return files[i].Frame < files[j].Frame
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func frameNumber(name string) int {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	frame, err := strconv.Atoi(name[i:])
	if err != nil {
		return -1
	}
	return frame
}

// ConvertDir converts every image of inputDir into outputDir under the same
// file name.
//
// Arguments:
//   - inputDir: The directory to read.
//   - outputDir: Created if missing.
//   - conversion: The target color space.
//
// Returns:
//   - []string: The written files, in frame order.
//   - error: An error for the first image that fails.
func ConvertDir(inputDir, outputDir string, conversion Conversion) ([]string, error) {
	files, err := ListImageFiles(inputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		out := filepath.Join(outputDir, filepath.Base(f.Path))
		if _, err := ConvertFile(f.Path, out, conversion); err != nil {
			return written, err
		}
		written = append(written, out)
	}
	return written, nil
}
