//go:build integration

package integration

import (
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/json"
    "encoding/pem"
    "errors"
    "fmt"
    "math/big"
    "net"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-clustersync/pkg/daemon"
    "github.com/amirimatin/go-clustersync/pkg/registry"
    "github.com/amirimatin/go-clustersync/pkg/topology"
    "github.com/amirimatin/go-clustersync/pkg/transport/httpjson"
)

var errNotYet = errors.New("not yet")

func waitUntil(t *testing.T, d time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(d)
    var err error
    for time.Now().Before(deadline) {
        if err = fn(); err == nil { return }
        time.Sleep(100 * time.Millisecond)
    }
    t.Fatalf("condition not met within %s: %v", d, err)
}

func fetchStatus(ctx context.Context, cli *httpjson.Client, addr string) (daemon.Status, error) {
    var s daemon.Status
    b, err := cli.GetStatus(ctx, addr)
    if err != nil { return s, err }
    err = json.Unmarshal(b, &s)
    return s, err
}

func fetchRegistry(ctx context.Context, cli *httpjson.Client, addr string) (registry.Image, error) {
    var img registry.Image
    b, err := cli.GetRegistry(ctx, addr)
    if err != nil { return img, err }
    err = json.Unmarshal(b, &img)
    return img, err
}

func group(id, name string, hosts ...string) topology.GroupDescriptor {
    g := topology.GroupDescriptor{ID: id, Name: name}
    for _, h := range hosts {
        g.Nodes = append(g.Nodes, topology.NodeDescriptor{IP: h, HeartbeatPort: 9050})
    }
    return g
}

func snapshot(groups ...topology.GroupDescriptor) *topology.Snapshot {
    return &topology.Snapshot{Status: &topology.ResponseStatus{Code: topology.CodeOK}, Groups: groups}
}

// mustMakeTestCerts writes a CA and one node certificate valid for both
// server and client auth on 127.0.0.1, plus a CLI client certificate.
func mustMakeTestCerts(t *testing.T, dir string) (caCrt, nodeCrt, nodeKey, cliCrt, cliKey string) {
    t.Helper()
    caPriv, _ := rsa.GenerateKey(rand.Reader, 2048)
    caTpl := &x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "clustersync-ca"}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(48 * time.Hour), KeyUsage: x509.KeyUsageCertSign | x509.KeyUsageCRLSign, IsCA: true, BasicConstraintsValid: true}
    caDER, _ := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caPriv.PublicKey, caPriv)
    caCrt = filepath.Join(dir, "ca.crt")
    writePEM(t, caCrt, "CERTIFICATE", caDER)

    makeLeaf := func(cn, name string, usage ...x509.ExtKeyUsage) (string, string) {
        priv, _ := rsa.GenerateKey(rand.Reader, 2048)
        tpl := &x509.Certificate{SerialNumber: big.NewInt(time.Now().UnixNano()), Subject: pkix.Name{CommonName: cn}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(24 * time.Hour), KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment, ExtKeyUsage: usage}
        tpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
        der, _ := x509.CreateCertificate(rand.Reader, tpl, caTpl, &priv.PublicKey, caPriv)
        crtPath := filepath.Join(dir, name+".crt")
        keyPath := filepath.Join(dir, name+".key")
        writePEM(t, crtPath, "CERTIFICATE", der)
        writePEM(t, keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv))
        return crtPath, keyPath
    }
    nodeCrt, nodeKey = makeLeaf("clustersync-node", "node", x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth)
    cliCrt, cliKey = makeLeaf("clustersync-cli", "cli", x509.ExtKeyUsageClientAuth)
    return
}

func writePEM(t *testing.T, path, typ string, der []byte) {
    t.Helper()
    f, err := os.Create(path)
    if err != nil { t.Fatalf("create %s: %v", path, err) }
    defer f.Close()
    if err := pem.Encode(f, &pem.Block{Type: typ, Bytes: der}); err != nil {
        t.Fatalf("pem encode %s: %v", path, err)
    }
}

func nodeAlive(img registry.Image, gid, addr string) (bool, error) {
    for _, n := range img.Groups[gid] {
        if n.Address() == addr { return n.Alive, nil }
    }
    return false, fmt.Errorf("node %s not registered in %s", addr, gid)
}
