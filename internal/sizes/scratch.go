package sizes

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// scratch names the three local files one task works with. The id keeps
// concurrent invocations sharing a /tmp from colliding; the original's
// extension is kept so the encoder writes the same format back.
type scratch struct {
	original string
	thumb    string
	medium   string
}

func newScratch(dir, id, sourceKey string) scratch {
	ext := strings.ToLower(path.Ext(sourceKey))
	return scratch{
		original: filepath.Join(dir, id+ext),
		thumb:    filepath.Join(dir, id+"-thumb"+ext),
		medium:   filepath.Join(dir, id+"-medium"+ext),
	}
}

func (s scratch) paths() []string {
	return []string{s.original, s.thumb, s.medium}
}

// remove deletes each file independently. Files that were never created are
// expected; any other failure is logged and dropped.
func (s scratch) remove(logger zerolog.Logger) {
	for _, p := range s.paths() {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Debug().Err(err).Str("path", p).Msg("Failed to remove scratch file")
		}
	}
}
