package metaservice

import (
    "context"
    "encoding/json"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-clustersync/pkg/topology"
)

// FileSource serves a snapshot stored in a YAML or JSON file. The file is
// re-read when its mtime changes; a file that fails to parse leaves the
// previous snapshot in place and the error is reported once per change.
type FileSource struct {
    path  string
    mu    sync.Mutex
    mtime time.Time
    snap  *topology.Snapshot
}

func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (f *FileSource) GetCluster(ctx context.Context, flt topology.Filter) (*topology.Snapshot, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    f.mu.Lock(); defer f.mu.Unlock()
    st, err := os.Stat(f.path)
    if err != nil { return nil, err }
    if f.snap == nil || st.ModTime().After(f.mtime) {
        s, err := LoadSnapshot(f.path)
        f.mtime = st.ModTime()
        if err != nil { return nil, err }
        f.snap = s
    }
    return Select(f.snap, flt), nil
}

// LoadSnapshot decodes a snapshot file. Files ending in .json are decoded as
// JSON, everything else as YAML.
func LoadSnapshot(path string) (*topology.Snapshot, error) {
    data, err := os.ReadFile(path)
    if err != nil { return nil, err }
    var s topology.Snapshot
    if strings.EqualFold(filepath.Ext(path), ".json") {
        err = json.Unmarshal(data, &s)
    } else {
        err = yaml.Unmarshal(data, &s)
    }
    if err != nil { return nil, fmt.Errorf("metaservice: decode %s: %w", path, err) }
    return &s, nil
}

var _ Client = (*FileSource)(nil)
