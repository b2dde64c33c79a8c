//go:build integration

package bootstrap

import (
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/json"
    "encoding/pem"
    "errors"
    "math/big"
    "net"
    "os"
    "path/filepath"
    "sync"
    "testing"
    "time"

    "github.com/amirimatin/go-shardstore/pkg/cluster"
    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/datastore"
    "github.com/amirimatin/go-shardstore/pkg/schema/schematest"
    tlsx "github.com/amirimatin/go-shardstore/pkg/security/tlsconfig"
    "github.com/amirimatin/go-shardstore/pkg/transport"
    httpjson "github.com/amirimatin/go-shardstore/pkg/transport/httpjson"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var errNotYet = errors.New("not yet")

func waitUntil(t *testing.T, timeout time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    var last error
    for time.Now().Before(deadline) {
        if last = fn(); last == nil { return }
        time.Sleep(200 * time.Millisecond)
    }
    t.Fatalf("timeout waiting for condition: %v", last)
}

func fetchStatus(ctx context.Context, cli *httpjson.Client, addr string) (cluster.ClusterStatus, error) {
    var s cluster.ClusterStatus
    b, err := cli.GetStatus(ctx, addr)
    if err != nil { return s, err }
    err = json.Unmarshal(b, &s)
    return s, err
}

type node struct {
    id, mgmt string
    cl       *cluster.Cluster
}

var threeNodes = []struct{ id, raft, mem, mgmt, relay string }{
    {"n1", "127.0.0.1:9521", "127.0.0.1:7946", "127.0.0.1:17946", "127.0.0.1:27946"},
    {"n2", "127.0.0.1:9522", "127.0.0.1:8946", "127.0.0.1:18946", "127.0.0.1:28946"},
    {"n3", "127.0.0.1:9523", "127.0.0.1:9946", "127.0.0.1:19946", "127.0.0.1:29946"},
}

// startThree boots n1 as the raft leader, starts n2 and n3 gossiping
// through it and joins both as voters through n1's management endpoint.
func startThree(t *testing.T, ctx context.Context, cli *httpjson.Client, tune func(*Config)) []*node {
    t.Helper()
    var nodes []*node
    for i, s := range threeNodes {
        cfg := Config{
            NodeID: s.id, Schema: schematest.Example(),
            RaftAddr: s.raft, MemBind: s.mem, MgmtAddr: s.mgmt, RelayAddr: s.relay,
            DiscoveryKind: "static", Bootstrap: i == 0,
        }
        if i > 0 {
            cfg.SeedsCSV = threeNodes[0].mem
        }
        if tune != nil {
            tune(&cfg)
        }
        cl, err := Run(ctx, cfg)
        if err != nil { t.Fatalf("%s: %v", s.id, err) }
        t.Cleanup(func() { _ = cl.Close() })
        nodes = append(nodes, &node{id: s.id, mgmt: s.mgmt, cl: cl})
    }
    waitUntil(t, 20*time.Second, func() error {
        s, err := fetchStatus(ctx, cli, threeNodes[0].mgmt)
        if err != nil { return err }
        if !s.Healthy || s.LeaderID != "n1" { return errNotYet }
        return nil
    })
    for _, n := range nodes[1:] {
        jctx, cancel := context.WithTimeout(ctx, 5*time.Second)
        err := n.cl.Join(jctx, threeNodes[0].mgmt)
        cancel()
        if err != nil { t.Fatalf("join %s: %v", n.id, err) }
    }
    return nodes
}

type counter struct {
    mu sync.Mutex
    n  int
}

func (c *counter) OnDataChanged(datastore.ChangeEvent) { c.mu.Lock(); c.n++; c.mu.Unlock() }
func (c *counter) get() int                            { c.mu.Lock(); defer c.mu.Unlock(); return c.n }

func TestThreeNodes_FollowerWritesReplicateAndNotify(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()
    cli := httpjson.NewClient(3 * time.Second)
    nodes := startThree(t, ctx, cli, nil)

    // n3 registers against n1's shard through the relay.
    seen := &counter{}
    waitUntil(t, 10*time.Second, func() error {
        _, err := nodes[2].cl.RegisterListener(ctx, cluster.DefaultShard, yang.MustParsePath(schematest.Namespace, "/interfaces"), datastore.ScopeSubtree, seen)
        return err
    })

    mtu := yang.MustParsePath(schematest.Namespace, "/interfaces/interface[name='eth0']/mtu")
    rec, err := codec.EncodeAt(schematest.Example(), mtu, tree.NewLeaf(schematest.Q("mtu"), uint64(9000)))
    if err != nil { t.Fatalf("encode: %v", err) }
    if _, err := cli.Data(ctx, nodes[1].mgmt, transport.DataRequest{Path: "/interfaces/interface[name='eth0']/mtu", Op: transport.OpWrite, Record: rec}); err != nil {
        t.Fatalf("follower write: %v", err)
    }
    for _, n := range nodes {
        n := n
        waitUntil(t, 10*time.Second, func() error {
            if _, ok, _ := n.cl.Read(cluster.DefaultShard, mtu); !ok { return errNotYet }
            return nil
        })
    }
    waitUntil(t, 10*time.Second, func() error {
        if seen.get() == 0 { return errNotYet }
        return nil
    })
}

func TestThreeNodes_LeaderStopElectsNewLeader(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()
    cli := httpjson.NewClient(3 * time.Second)
    nodes := startThree(t, ctx, cli, nil)
    _ = nodes[0].cl.Close()

    waitUntil(t, 20*time.Second, func() error {
        s, err := fetchStatus(ctx, cli, nodes[1].mgmt)
        if err != nil { return err }
        if s.LeaderID != "n2" && s.LeaderID != "n3" { return errNotYet }
        return nil
    })
    host := yang.MustParsePath(schematest.Namespace, "/system/hostname")
    waitUntil(t, 10*time.Second, func() error {
        return nodes[2].cl.Write(ctx, cluster.DefaultShard, host, tree.NewLeaf(schematest.Q("hostname"), "after-failover"))
    })
}

func TestThreeNodes_LeaveDropsMember(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()
    cli := httpjson.NewClient(3 * time.Second)
    nodes := startThree(t, ctx, cli, nil)
    if _, err := cli.PostLeave(ctx, nodes[0].mgmt, transport.LeaveRequest{ID: "n3"}); err != nil {
        t.Fatalf("leave n3: %v", err)
    }
    _ = nodes[2].cl.Close()
    waitUntil(t, 20*time.Second, func() error {
        s, err := fetchStatus(ctx, cli, nodes[0].mgmt)
        if err != nil { return err }
        for _, m := range s.Members {
            if m.ID == "n3" { return errNotYet }
        }
        return nil
    })
}

func TestTLS_ThreeNodes_JoinAndWrite(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()
    caCrt, nodeCrt, nodeKey, cliCrt, cliKey := mustMakeTestCerts(t, t.TempDir())
    cliTLS, err := tlsx.Options{Enable: true, CAFile: caCrt, CertFile: cliCrt, KeyFile: cliKey}.Client()
    if err != nil { t.Fatalf("tls client: %v", err) }
    cli := httpjson.NewClient(3 * time.Second).UseTLS(cliTLS)

    nodes := startThree(t, ctx, cli, func(c *Config) {
        c.TLSEnable, c.TLSCA, c.TLSCert, c.TLSKey = true, caCrt, nodeCrt, nodeKey
    })
    host := yang.MustParsePath(schematest.Namespace, "/system/hostname")
    waitUntil(t, 10*time.Second, func() error {
        return nodes[1].cl.Write(ctx, cluster.DefaultShard, host, tree.NewLeaf(schematest.Q("hostname"), "tls"))
    })
}

// mustMakeTestCerts writes a CA, a node certificate usable on both sides
// of a connection and a client-only certificate.
func mustMakeTestCerts(t *testing.T, dir string) (caCrt, nodeCrt, nodeKey, cliCrt, cliKey string) {
    t.Helper()
    caPriv, _ := rsa.GenerateKey(rand.Reader, 2048)
    caTpl := &x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "shardstore-ca"}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(48 * time.Hour), KeyUsage: x509.KeyUsageCertSign | x509.KeyUsageCRLSign, IsCA: true, BasicConstraintsValid: true}
    caDER, _ := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caPriv.PublicKey, caPriv)
    caCrt = filepath.Join(dir, "ca.crt")
    writePEM(t, caCrt, "CERTIFICATE", caDER)

    makeLeaf := func(cn, name string, usage ...x509.ExtKeyUsage) (string, string) {
        priv, _ := rsa.GenerateKey(rand.Reader, 2048)
        tpl := &x509.Certificate{SerialNumber: big.NewInt(time.Now().UnixNano()), Subject: pkix.Name{CommonName: cn}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(24 * time.Hour), KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment, ExtKeyUsage: usage}
        tpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
        der, _ := x509.CreateCertificate(rand.Reader, tpl, caTpl, &priv.PublicKey, caPriv)
        crt, key := filepath.Join(dir, name+".crt"), filepath.Join(dir, name+".key")
        writePEM(t, crt, "CERTIFICATE", der)
        writePEM(t, key, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv))
        return crt, key
    }
    nodeCrt, nodeKey = makeLeaf("shardstore-node", "node", x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth)
    cliCrt, cliKey = makeLeaf("shardstore-client", "client", x509.ExtKeyUsageClientAuth)
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
