package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"willbot/internal/app"

	// Built-in plugin factories referenced by manifests.
	_ "willbot/plugins/echo"
	_ "willbot/plugins/hello"
	_ "willbot/plugins/system"
)

var (
	version = "dev"
	commit  = "none"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "willbot",
	Short: "Plugin-driven chat bot",
	Long: `willbot discovers plugins under plugins.dir, sorts their capabilities into
listeners, periodic tasks, random tasks and HTTP routes, and runs them on three
supervised workers: transport, scheduler and HTTP.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	RunE: runBot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (default)",
	RunE:  runBot,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file (yaml or json)")
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
