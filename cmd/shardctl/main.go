package main

import (
    "log"

    "github.com/spf13/cobra"

    shardcli "github.com/amirimatin/go-shardstore/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "shardctl",
        Short:         "go-shardstore node and data CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    shardcli.AddAll(root)
    return root
}
