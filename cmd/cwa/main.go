// Command cwa is the agent's entrypoint: it runs one policy session
// against a master and prints a summary of what it found. It is not a
// daemon; scheduling repeated runs (cron, systemd timer, whatever the
// host already uses) is left to the caller.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jameshunt/clockwork/pkg/agent"
	"github.com/jameshunt/clockwork/pkg/facts"
	"github.com/jameshunt/clockwork/pkg/log"
	"github.com/jameshunt/clockwork/pkg/report"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cwa: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cwa",
	Short: "Clockwork policy agent",
	Long: `cwa connects to a policy master, compiles the policy assigned
to this host, brings every resource it names into compliance, and
reports the result.`,
	RunE: runAgent,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	cobra.OnInitialize(initLogging)

	flags := rootCmd.Flags()
	flags.String("master", "", "master address, host:port (required)")
	flags.String("host", "", "this host's name as known to the master (defaults to the OS hostname)")
	flags.String("data-dir", "/var/lib/clockwork/agent", "directory holding this host's certificate and local report store")
	flags.Bool("dry-run", false, "evaluate compliance without remediating")
	flags.String("facts", "", "path to a key=value fact file merged over the gathered fact set")
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func runAgent(cmd *cobra.Command, args []string) error {
	masterAddr, _ := cmd.Flags().GetString("master")
	if masterAddr == "" {
		return fmt.Errorf("--master is required")
	}
	host, _ := cmd.Flags().GetString("host")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	factsPath, _ := cmd.Flags().GetString("facts")

	extraFacts, err := loadExtraFacts(factsPath)
	if err != nil {
		return err
	}

	a, err := agent.New(agent.Config{
		MasterAddr: masterAddr,
		Host:       host,
		DataDir:    dataDir,
		DryRun:     dryRun,
		ExtraFacts: extraFacts,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Run(context.Background())
	if err != nil {
		return err
	}

	printSummary(job)
	for _, r := range job.Reports {
		for _, act := range r.Actions {
			if act.Result == report.ActionFailed {
				return fmt.Errorf("one or more actions failed")
			}
		}
	}
	return nil
}

func loadExtraFacts(path string) (facts.Set, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open facts file: %w", err)
	}
	defer f.Close()
	set, err := facts.Read(f)
	if err != nil {
		return nil, fmt.Errorf("read facts file: %w", err)
	}
	return set, nil
}

// printSummary mirrors the original agent's end-of-run report: one line
// per resource, then a totals line.
func printSummary(job *report.Job) {
	var compliant, fixed, failed int
	for _, r := range job.Reports {
		status := "ok"
		switch {
		case !r.Compliant:
			status = "failed"
			failed++
		case r.Fixed:
			status = "fixed"
			fixed++
		default:
			compliant++
		}
		fmt.Printf("%-10s %-8s %s\n", r.Kind, status, r.Key)
		for _, act := range r.Actions {
			fmt.Printf("  - [%s] %s\n", act.Result, act.Summary)
		}
	}
	fmt.Printf("\n%d resources: %d compliant, %d fixed, %d failed (%s)\n",
		len(job.Reports), compliant, fixed, failed, job.Duration())
}
