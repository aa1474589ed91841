// Command helmsmanctl is an operator CLI for a running helmsmand: it
// talks only to the admin HTTP surface (health, readiness, metrics).
// Driving the command surface itself is an MCP client's job (an editor
// integration or agent harness), not this tool's.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/helmsman-dev/helmsman/cmd/helmsmanctl/admin"
)

var version = "0.1.0"

func main() {
	var host string
	var port int

	root := &cobra.Command{
		Use:     "helmsmanctl",
		Short:   "Operator CLI for a running Helmsman daemon",
		Version: version,
	}
	root.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "daemon admin host")
	root.PersistentFlags().IntVar(&port, "port", 8787, "daemon admin port")

	root.AddCommand(statusCmd(&host, &port))
	root.AddCommand(waitCmd(&host, &port))
	root.AddCommand(metricsCmd(&host, &port))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func statusCmd(host *string, port *int) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report daemon health and readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			c := admin.New(*host, *port)
			if !c.Healthy(ctx) {
				fmt.Println("unreachable")
				return fmt.Errorf("daemon at %s:%d did not respond to /healthz", *host, *port)
			}
			ready, err := c.Ready(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("healthy=true ready=%t detail=%q\n", ready.Ready, ready.Detail)
			return nil
		},
	}
}

func waitCmd(host *string, port *int) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the daemon responds healthy, or until --timeout elapses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
			defer cancel()

			c := admin.New(*host, *port)
			if !c.WaitUntilHealthy(ctx, timeout) {
				return fmt.Errorf("daemon at %s:%d did not become healthy within %s", *host, *port, timeout)
			}
			fmt.Println("healthy")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "max time to wait")
	return cmd
}

func metricsCmd(host *string, port *int) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Dump the daemon's Prometheus metrics text",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			c := admin.New(*host, *port)
			text, err := c.MetricsText(ctx)
			if err != nil {
				return err
			}
			fmt.Print(text)
			return nil
		},
	}
}
