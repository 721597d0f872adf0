package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"willbot/internal/app"
	"willbot/internal/bootstrap"
	logx "willbot/pkg/logx"
)

var pluginsVerbose bool

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Discover and classify plugins without starting the bot",
	Long: `Run one bootstrap cycle against plugins.dir and print the four capability
tables and every startup error. Exits 1 if any plugin failed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		level := "ERROR"
		if pluginsVerbose {
			level = "DEBUG"
		}
		res, err := app.Inspect(cmd.Context(), cfgPath, logx.NewConsole(level))
		if err != nil {
			return err
		}
		printTables(cmd.OutOrStdout(), res)
		if n := res.Errors.Len(); n > 0 {
			return fmt.Errorf("%d startup error(s)", n)
		}
		return nil
	},
}

func init() {
	pluginsCmd.Flags().BoolVarP(&pluginsVerbose, "verbose", "v", false, "log discovery at debug level")
	rootCmd.AddCommand(pluginsCmd)
}

func printTables(w io.Writer, res *bootstrap.Result) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	t := res.Tables
	fmt.Fprintf(w, "\n%s %s\n\n", cyan("=== Bootstrap cycle"), gray(res.CycleID.String()))

	fmt.Fprintf(w, "%s (%d)\n", yellow("Listeners"), len(t.Listeners))
	for _, l := range t.Listeners {
		var flags []string
		if l.DirectMentionsOnly {
			flags = append(flags, "direct")
		}
		if l.IncludeMe {
			flags = append(flags, "include_me")
		}
		if l.CaseSensitive {
			flags = append(flags, "case")
		}
		fmt.Fprintf(w, "  %s %s.%s  /%s/ %s\n", green("●"), l.Owner, l.Operation, l.Pattern, gray(strings.Join(flags, ",")))
	}

	fmt.Fprintf(w, "%s (%d)\n", yellow("Periodic tasks"), len(t.Periodic))
	for _, p := range t.Periodic {
		fmt.Fprintf(w, "  %s %s.%s  args=%v kwargs=%v\n", green("●"), p.Owner, p.Operation, p.Args, p.Kwargs)
	}

	fmt.Fprintf(w, "%s (%d)\n", yellow("Random tasks"), len(t.Random))
	for _, r := range t.Random {
		fmt.Fprintf(w, "  %s %s.%s  %02d:00-%02d:00 x%d on %s\n", green("●"), r.Owner, r.Operation, r.StartHour, r.EndHour, r.NumTimesPerDay, r.DayOfWeek)
	}

	fmt.Fprintf(w, "%s (%d)\n", yellow("HTTP routes"), len(t.Routes))
	for _, rt := range t.Routes {
		fmt.Fprintf(w, "  %s %s.%s  %s\n", green("●"), rt.Owner, rt.Operation, rt.Route)
	}

	items := res.Errors.Items()
	fmt.Fprintf(w, "\n%s (%d)\n", yellow("Startup errors"), len(items))
	if len(items) == 0 {
		fmt.Fprintf(w, "  %s\n", gray("none"))
	}
	for _, e := range items {
		fmt.Fprintf(w, "  %s %s %s\n", red("✗"), e.Error(), gray("["+e.Kind.String()+"]"))
	}
	fmt.Fprintf(w, "\n%s %s\n", gray("took"), res.Took)
}
