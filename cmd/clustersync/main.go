package main

import (
    "log"

    "github.com/spf13/cobra"

    synccli "github.com/amirimatin/go-clustersync/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "clustersync",
        Short:         "reconciles the local cluster registry with the meta service",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all commands from pkg/cli for reuse in services
    synccli.AddAll(root)
    return root
}
