package cli

import (
    "context"
    "errors"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/google/go-cmp/cmp"
    "github.com/spf13/cobra"

    "github.com/amirimatin/go-shardstore/pkg/bootstrap"
    "github.com/amirimatin/go-shardstore/pkg/cluster"
    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/schema/schematest"
    "github.com/amirimatin/go-shardstore/pkg/tree"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

func TestSplitCSV(t *testing.T) {
    if diff := cmp.Diff([]string{"a:1", "b:2"}, splitCSV(" a:1,, b:2 ,")); diff != "" {
        t.Fatalf("(-want +got):\n%s", diff)
    }
    if got := splitCSV(""); len(got) != 0 { t.Fatalf("empty: %v", got) }
}

func TestRecordFromBody(t *testing.T) {
    rec, err := recordFromBody(`<system xmlns="urn:example"><hostname>r1</hostname></system>`)
    if err != nil { t.Fatalf("record: %v", err) }
    if rec.NodeIdentifier != "(urn:example)system" { t.Fatalf("identifier: %q", rec.NodeIdentifier) }
    for _, body := range []string{"", "<system><hostname/></system>", "<system"} {
        if _, err := recordFromBody(body); !errors.Is(err, codec.ErrMalformedBody) {
            t.Fatalf("%q: %v", body, err)
        }
    }
}

func TestAddAll_RegistersCommands(t *testing.T) {
    root := &cobra.Command{Use: "shardctl"}
    AddAll(root)
    var got []string
    for _, c := range root.Commands() { got = append(got, c.Name()) }
    want := []string{"delete", "join", "leave", "merge", "read", "run", "status", "watch", "write"}
    if diff := cmp.Diff(want, got); diff != "" { t.Fatalf("commands (-want +got):\n%s", diff) }
}

func TestWriteAndDelete_AgainstLocalNode(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    cl, err := bootstrap.Run(ctx, bootstrap.Config{NodeID: "n1", Schema: schematest.Example(), Engine: "local", Bootstrap: true, MgmtAddr: "127.0.0.1:0"})
    if err != nil { t.Fatalf("run: %v", err) }
    defer cl.Close()
    var addr string
    deadline := time.Now().Add(3 * time.Second)
    for addr == "" && time.Now().Before(deadline) {
        if st, err := cl.Status(ctx); err == nil && len(st.Shards) == 1 && st.Shards[0].Leader {
            addr = st.LeaderAddr
        }
        time.Sleep(10 * time.Millisecond)
    }
    if addr == "" { t.Fatalf("node never led") }

    body := filepath.Join(t.TempDir(), "system.xml")
    if err := os.WriteFile(body, []byte(`<system xmlns="urn:example"><hostname>r1</hostname></system>`), 0o600); err != nil {
        t.Fatalf("body: %v", err)
    }
    run := func(cmd *cobra.Command, args ...string) error {
        cmd.SetArgs(append(args, "--addr", addr, "--path", "/system/hostname"))
        cmd.SilenceUsage = true
        return cmd.Execute()
    }
    if err := run(NewWriteCmd(), "--file", body); err != nil { t.Fatalf("write: %v", err) }
    p := yang.MustParsePath(schematest.Namespace, "/system/hostname")
    if n, ok, _ := cl.Read(cluster.DefaultShard, p); !ok || !tree.Equal(n, tree.NewLeaf(schematest.Q("hostname"), "r1")) {
        t.Fatalf("after write: %#v", n)
    }
    if err := run(NewReadCmd()); err != nil { t.Fatalf("read: %v", err) }
    if err := run(NewDeleteCmd()); err != nil { t.Fatalf("delete: %v", err) }
    if err := run(NewReadCmd()); !errors.Is(err, errNotFound) { t.Fatalf("read after delete: %v", err) }
}
