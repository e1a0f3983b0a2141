package secrets

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// fallbackFile serves secrets from a dotenv file when Secret Manager is out of reach. The
// file is read once; a missing file simply holds no values.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(key string) (string, bool, error) {
	f.once.Do(func() {
		if f.path == "" {
			return
		}
		values, err := godotenv.Read(f.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			f.err = fmt.Errorf("secrets: read fallback file %s: %w", f.path, err)
		default:
			f.values = values
		}
	})
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.values[key]
	return v, ok, nil
}
