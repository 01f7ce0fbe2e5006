package camera

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Archive keeps captured frames on disk for the event log and dashboard.
type Archive struct {
	fs  afero.Fs
	dir string
}

func NewArchive(fs afero.Fs, dir string) (*Archive, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("camera: create %s: %w", dir, err)
	}
	return &Archive{fs: fs, dir: dir}, nil
}

// Save writes frame as <UTC timestamp to the millisecond>[_label].jpg and
// returns the path. An existing file is never overwritten; a numeric suffix
// is added instead.
func (a *Archive) Save(frame []byte, label string, at time.Time) (string, error) {
	name := strings.Replace(at.UTC().Format("20060102_150405.000"), ".", "_", 1)
	if label = unsafeLabel.ReplaceAllString(label, ""); label != "" {
		name += "_" + label
	}

	for n := 1; n <= 100; n++ {
		file := name
		if n > 1 {
			file = fmt.Sprintf("%s_%d", name, n)
		}
		path := filepath.Join(a.dir, file+".jpg")

		f, err := a.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("camera: save %s: %w", path, err)
		}

		_, err = f.Write(frame)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", fmt.Errorf("camera: save %s: %w", path, err)
		}
		return path, nil
	}

	return "", fmt.Errorf("camera: save %s: too many captures with the same name", name)
}
