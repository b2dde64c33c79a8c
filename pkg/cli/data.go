package cli

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "os"

    "github.com/beevik/etree"
    "github.com/spf13/cobra"

    "github.com/amirimatin/go-shardstore/pkg/codec"
    "github.com/amirimatin/go-shardstore/pkg/transport"
    "github.com/amirimatin/go-shardstore/pkg/yang"
)

var errNotFound = errors.New("not found")

type dataFlags struct {
    clientFlags
    shard, path string
}

func (df *dataFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&df.shard, "shard", "default", "shard name")
    cmd.Flags().StringVar(&df.path, "path", "", "instance identifier, e.g. /interfaces/interface[name='eth0'] (required)")
    df.clientFlags.register(cmd)
}

func (df *dataFlags) do(req transport.DataRequest) (transport.DataResponse, error) {
    if df.path == "" { return transport.DataResponse{}, fmt.Errorf("missing required flag: --path") }
    client, err := df.build()
    if err != nil { return transport.DataResponse{}, err }
    ctx, cancel := context.WithTimeout(context.Background(), df.timeout)
    defer cancel()
    req.Shard, req.Path = df.shard, df.path
    return client.Data(ctx, df.addr, req)
}

// NewReadCmd returns the "read" command printing the record at a path.
func NewReadCmd() *cobra.Command {
    var (
        df     dataFlags
        asJSON bool
    )
    cmd := &cobra.Command{
        Use:   "read",
        Short: "Read the subtree at a path from a node's replica",
        RunE: func(cmd *cobra.Command, args []string) error {
            resp, err := df.do(transport.DataRequest{Op: transport.OpRead})
            if err != nil { return fmt.Errorf("read error: %w", err) }
            if !resp.Found { return fmt.Errorf("%s: %w", df.path, errNotFound) }
            if asJSON { return json.NewEncoder(os.Stdout).Encode(resp.Record) }
            fmt.Println(resp.Record.Body)
            return nil
        },
    }
    cmd.Flags().BoolVar(&asJSON, "json", false, "print the wire record instead of the XML body")
    df.register(cmd)
    return cmd
}

// NewWriteCmd returns the "write" command replacing the subtree at a path.
func NewWriteCmd() *cobra.Command { return changeCmd("write", transport.OpWrite, "Replace the subtree at a path") }

// NewMergeCmd returns the "merge" command overlaying a subtree at a path.
func NewMergeCmd() *cobra.Command { return changeCmd("merge", transport.OpMerge, "Merge a subtree into the one at a path") }

func changeCmd(use, op, short string) *cobra.Command {
    var (
        df   dataFlags
        file string
    )
    cmd := &cobra.Command{
        Use:   use,
        Short: short,
        Long: short + ". The body is the XML of the top-level container holding the subtree, " +
            "with list keys of the path on its ancestors, as printed by read.",
        RunE: func(cmd *cobra.Command, args []string) error {
            body, err := readBody(file)
            if err != nil { return err }
            rec, err := recordFromBody(body)
            if err != nil { return err }
            resp, err := df.do(transport.DataRequest{Op: op, Record: rec})
            if err != nil { return fmt.Errorf("%s error: %w", use, err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    cmd.Flags().StringVar(&file, "file", "-", "XML body file, - for stdin")
    df.register(cmd)
    return cmd
}

// NewDeleteCmd returns the "delete" command.
func NewDeleteCmd() *cobra.Command {
    var df dataFlags
    cmd := &cobra.Command{
        Use:   "delete",
        Short: "Delete the subtree at a path",
        RunE: func(cmd *cobra.Command, args []string) error {
            resp, err := df.do(transport.DataRequest{Op: transport.OpDelete})
            if err != nil { return fmt.Errorf("delete error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    df.register(cmd)
    return cmd
}

func readBody(file string) (string, error) {
    var r io.Reader = os.Stdin
    if file != "-" {
        f, err := os.Open(file)
        if err != nil { return "", err }
        defer f.Close()
        r = f
    }
    b, err := io.ReadAll(r)
    return string(b), err
}

// recordFromBody names a body after its root element.
func recordFromBody(body string) (*codec.WireRecord, error) {
    doc := etree.NewDocument()
    if err := doc.ReadFromString(body); err != nil { return nil, fmt.Errorf("%w: %v", codec.ErrMalformedBody, err) }
    root := doc.Root()
    if root == nil { return nil, fmt.Errorf("%w: no root element", codec.ErrMalformedBody) }
    ns := root.NamespaceURI()
    if ns == "" { return nil, fmt.Errorf("%w: root %s has no namespace", codec.ErrMalformedBody, root.Tag) }
    return &codec.WireRecord{NodeIdentifier: yang.NewQName(ns, root.Tag).String(), Body: body}, nil
}
