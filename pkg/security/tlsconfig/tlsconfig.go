// Package tlsconfig builds the mutual TLS configs shared by the relay,
// management and raft listeners of a node.
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

var ErrMissingKeyPair = errors.New("tls: server cert/key required when TLS enabled")

type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
    // Reload, when positive, re-reads the key pair from disk at most once
    // per interval so certificates can be rotated without a restart.
    Reload time.Duration
}

// Server returns a tls.Config for servers if enabled, otherwise nil. A CA
// file turns on client certificate verification.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" { return nil, ErrMissingKeyPair }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile, ttl: o.Reload}
    if o.Reload <= 0 {
        cert, err := kp.get()
        if err != nil { return nil, err }
        cfg.Certificates = []tls.Certificate{*cert}
        return cfg, nil
    }
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() }
    return cfg, nil
}

// Client returns a tls.Config for clients if enabled, otherwise nil. The
// client certificate is optional.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile == "" || o.KeyFile == "" { return cfg, nil }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile, ttl: o.Reload}
    if o.Reload <= 0 {
        cert, err := kp.get()
        if err != nil { return nil, err }
        cfg.Certificates = []tls.Certificate{*cert}
        return cfg, nil
    }
    cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.get() }
    return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, fmt.Errorf("tls: no certificates in %s", path) }
    return pool, nil
}

// keyPair caches a loaded certificate for ttl.
type keyPair struct {
    cert, key string
    ttl       time.Duration

    mu     sync.Mutex
    cached *tls.Certificate
    loaded time.Time
}

func (k *keyPair) get() (*tls.Certificate, error) {
    k.mu.Lock()
    defer k.mu.Unlock()
    if k.cached != nil && time.Since(k.loaded) < k.ttl { return k.cached, nil }
    cert, err := tls.LoadX509KeyPair(k.cert, k.key)
    if err != nil {
        if k.cached != nil { return k.cached, nil }
        return nil, err
    }
    k.cached, k.loaded = &cert, time.Now()
    return k.cached, nil
}
