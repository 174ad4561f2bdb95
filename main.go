package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/km-arc/go-context/framework/app"
	"github.com/km-arc/go-context/framework/config"
	"github.com/km-arc/go-context/framework/inspect"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "gocontext",
	Short: "Hierarchical binding contexts served over HTTP",
	Long: `gocontext boots an application whose services live in a tree of binding
Contexts. Each HTTP request runs in its own child Context.`,
	Version:       app.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with the demo greeter bound.

Examples:
  gocontext serve
  curl 'localhost:8000/greet?user=Jane'
  curl localhost:8000/_context/bindings?tag=route`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Run(ctx)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the bootstrapped context tree as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Boot(); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(inspect.Tree(a.Context, false))
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load (default .env)")
	rootCmd.AddCommand(serveCmd, inspectCmd)
}

func bootstrap() (*app.Application, error) {
	a, err := app.New(config.Load(envFiles...))
	if err != nil {
		return nil, err
	}
	if err := a.Register(&greeterProvider{}); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
