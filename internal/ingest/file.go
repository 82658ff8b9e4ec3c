package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OpenFile opens a transport stream file. The source key is the file name
// without its extension.
func OpenFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ingest: stat %s: %w", path, err)
	}
	if fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("ingest: %s is a directory", path)
	}

	base := filepath.Base(path)
	key := strings.TrimSuffix(base, filepath.Ext(base))
	if key == "" {
		key = "default"
	}
	return NewSource(key, ProtocolFile, f, f.Close), nil
}
