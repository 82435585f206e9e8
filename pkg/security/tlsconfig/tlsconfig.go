// Package tlsconfig builds TLS configs for the meta-service client, the
// meta-service server and the management endpoint from PEM files.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// Options defines mTLS configuration inputs.
type Options struct {
    Enable             bool   `yaml:"enable"`
    CAFile             string `yaml:"ca_file"`
    CertFile           string `yaml:"cert_file"`
    KeyFile            string `yaml:"key_file"`
    InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
    ServerName         string `yaml:"server_name"`
}

// reloadEvery bounds how stale a hot-reloaded certificate may be.
const reloadEvery = 10 * time.Second

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) {
        return nil, fmt.Errorf("tls: no certificate found in %s", path)
    }
    return pool, nil
}

// Server returns a server tls.Config when enabled, otherwise nil. With a CA
// file, client certificates are required and verified.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil { return nil, err }
    cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns a client tls.Config when enabled, otherwise nil.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName, MinVersion: tls.VersionTLS12} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil { return nil, err }
        cfg.Certificates = []tls.Certificate{cert}
    }
    return cfg, nil
}

// ServerHotReload is Server with the certificate re-read from disk at most
// every reloadEvery, so files can be rotated in place.
func (o Options) ServerHotReload() (*tls.Config, error) {
    cfg, err := o.Server()
    if cfg == nil || err != nil { return cfg, err }
    load := o.reloader()
    cfg.Certificates = nil
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return load() }
    return cfg, nil
}

// ClientHotReload is Client with the client certificate re-read on demand.
func (o Options) ClientHotReload() (*tls.Config, error) {
    cfg, err := o.Client()
    if cfg == nil || err != nil { return cfg, err }
    if o.CertFile == "" || o.KeyFile == "" { return cfg, nil }
    load := o.reloader()
    cfg.Certificates = nil
    cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return load() }
    return cfg, nil
}

func (o Options) reloader() func() (*tls.Certificate, error) {
    var (
        mu       sync.Mutex
        cached   *tls.Certificate
        lastLoad time.Time
    )
    return func() (*tls.Certificate, error) {
        mu.Lock()
        defer mu.Unlock()
        if cached != nil && time.Since(lastLoad) < reloadEvery {
            return cached, nil
        }
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil {
            if cached != nil { return cached, nil }
            return nil, err
        }
        cached, lastLoad = &cert, time.Now()
        return cached, nil
    }
}
