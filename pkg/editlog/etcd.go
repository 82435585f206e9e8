package editlog

import (
    "context"
    "encoding/json"
    "errors"
    "strconv"
    "strings"
    "time"

    clientv3 "go.etcd.io/etcd/client/v3"

    "github.com/amirimatin/go-clustersync/pkg/registry"
)

// DefaultEtcdPrefix is the key prefix used when EtcdOptions.Prefix is empty.
const DefaultEtcdPrefix = "/clustersync/editlog/"

type EtcdOptions struct {
    Endpoints      []string
    Prefix         string
    DialTimeout    time.Duration
    RequestTimeout time.Duration
}

func (o EtcdOptions) Validate() error {
    if len(o.Endpoints) == 0 { return errors.New("editlog: no etcd endpoints") }
    return nil
}

// Etcd stores the last modification of every node under prefix/nodes/<id>.
// Followers watch the prefix.
type Etcd struct {
    client  *clientv3.Client
    prefix  string
    timeout time.Duration
}

func NewEtcd(opts EtcdOptions) (*Etcd, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    if opts.DialTimeout <= 0 { opts.DialTimeout = 5 * time.Second }
    if opts.RequestTimeout <= 0 { opts.RequestTimeout = 3 * time.Second }
    prefix := opts.Prefix
    if prefix == "" { prefix = DefaultEtcdPrefix }
    if !strings.HasSuffix(prefix, "/") { prefix += "/" }
    cli, err := clientv3.New(clientv3.Config{
        Endpoints:   opts.Endpoints,
        DialTimeout: opts.DialTimeout,
    })
    if err != nil { return nil, err }
    return &Etcd{client: cli, prefix: prefix, timeout: opts.RequestTimeout}, nil
}

// NodeKey returns the key a node's record is stored under.
func (e *Etcd) NodeKey(id int64) string {
    return e.prefix + "nodes/" + strconv.FormatInt(id, 10)
}

func (e *Etcd) LogModifyNode(ctx context.Context, n *registry.Node) error {
    err := e.putValue(ctx, e.NodeKey(n.ID), Record{Op: OpModifyNode, Node: n, At: time.Now().UTC()})
    observe("etcd", err)
    return err
}

// Records lists every stored record ordered by key.
func (e *Etcd) Records(ctx context.Context) ([]Record, error) {
    ctx, cancel := context.WithTimeout(ctx, e.timeout)
    defer cancel()
    resp, err := e.client.Get(ctx, e.prefix+"nodes/", clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
    if err != nil { return nil, err }
    out := make([]Record, 0, len(resp.Kvs))
    for _, kv := range resp.Kvs {
        var r Record
        if err := json.Unmarshal(kv.Value, &r); err != nil { continue }
        out = append(out, r)
    }
    return out, nil
}

// Follow applies every record put under the prefix to st until ctx is done.
func (e *Etcd) Follow(ctx context.Context, st State) {
    wch := e.client.Watch(ctx, e.prefix+"nodes/", clientv3.WithPrefix())
    for resp := range wch {
        for _, ev := range resp.Events {
            if ev.Type != clientv3.EventTypePut { continue }
            var r Record
            if err := json.Unmarshal(ev.Kv.Value, &r); err != nil || r.Node == nil { continue }
            _ = st.ApplyModifyNode(r.Node)
        }
    }
}

func (e *Etcd) Close() error { return e.client.Close() }

func (e *Etcd) putValue(ctx context.Context, key string, val any) error {
    b, err := json.Marshal(val)
    if err != nil { return err }
    ctx, cancel := context.WithTimeout(ctx, e.timeout)
    defer cancel()
    _, err = e.client.Put(ctx, key, string(b))
    return err
}

var _ Log = (*Etcd)(nil)
