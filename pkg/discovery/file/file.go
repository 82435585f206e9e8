// Package file discovers meta-service endpoints from an environment
// variable or from files an operator (or config management) keeps current.
package file

import (
    "bufio"
    "bytes"
    "os"
    "path/filepath"
    "slices"
    "strings"
    "sync"
    "time"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-clustersync/pkg/discovery"
)

// Options configures file/ENV-based discovery.
type Options struct {
    // Path is a file or a glob. Each file lists addresses one per line,
    // comma separated, or as a YAML document "endpoints: [a:1, b:2]". The
    // union of all matched files is used.
    Path string
    // Env names a variable holding a CSV list; when set and non-empty it
    // wins over Path.
    Env string
    // Refresh bounds how long a read is reused. Defaults to 5s.
    Refresh time.Duration
}

type source struct {
    opts Options

    mu     sync.Mutex
    readAt time.Time
    addrs  []string
}

func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &source{opts: opts}
}

func (s *source) Endpoints() []string {
    if s.opts.Env != "" {
        if v := os.Getenv(s.opts.Env); strings.TrimSpace(v) != "" { return unique(strings.Split(v, ",")) }
    }
    if s.opts.Path == "" { return nil }

    s.mu.Lock()
    defer s.mu.Unlock()
    if s.addrs == nil || time.Since(s.readAt) >= s.opts.Refresh {
        // a failed or empty read keeps the last good list, so a file being
        // rewritten never empties the endpoint set
        if addrs := s.read(); len(addrs) > 0 { s.addrs = addrs }
        s.readAt = time.Now()
    }
    return slices.Clone(s.addrs)
}

func (s *source) read() []string {
    paths, err := filepath.Glob(s.opts.Path)
    if err != nil { return nil }
    var all []string
    for _, p := range paths {
        addrs, err := parse(p)
        if err != nil { continue }
        all = append(all, addrs...)
    }
    return unique(all)
}

func parse(path string) ([]string, error) {
    data, err := os.ReadFile(path)
    if err != nil { return nil, err }
    body := bytes.TrimSpace(data)
    if bytes.HasPrefix(body, []byte("endpoints:")) {
        var doc struct {
            Endpoints []string `yaml:"endpoints"`
        }
        err := yaml.Unmarshal(body, &doc)
        return doc.Endpoints, err
    }
    var out []string
    sc := bufio.NewScanner(bytes.NewReader(body))
    for sc.Scan() {
        line, _, _ := strings.Cut(sc.Text(), "#")
        out = append(out, strings.Split(line, ",")...)
    }
    return out, sc.Err()
}

// unique trims, drops blanks and duplicates, and sorts.
func unique(in []string) []string {
    out := make([]string, 0, len(in))
    for _, a := range in {
        if a = strings.TrimSpace(a); a != "" { out = append(out, a) }
    }
    slices.Sort(out)
    return slices.Compact(out)
}
