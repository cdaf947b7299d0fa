// Command cwm is the policy master daemon's entrypoint: a thin Cobra
// wrapper around pkg/master, responsible only for reading flags,
// loading a manifest off disk, and starting the server. Daemon
// supervision beyond that (process management, restart policy, signal
// handling) is out of scope; cwm runs in the foreground until its
// listener fails.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jameshunt/clockwork/pkg/log"
	"github.com/jameshunt/clockwork/pkg/manifest"
	"github.com/jameshunt/clockwork/pkg/master"
	"github.com/jameshunt/clockwork/pkg/metrics"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cwm: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cwm",
	Short: "Clockwork policy master",
	Long: `cwm holds a compiled manifest, signs and rotates host
certificates, and enforces the policies it compiles against every
connecting agent.`,
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/clockwork/master", "directory holding the CA, file cache, and report store")
	rootCmd.PersistentFlags().String("master-key", "", "passphrase protecting the CA's private key at rest (required)")
	cobra.OnInitialize(initLogging)

	flags := rootCmd.Flags()
	flags.String("listen", "0.0.0.0:7344", "address to accept agent connections on")
	flags.String("manifest", "", "path to a YAML manifest file (required)")
	flags.String("default-policy", "", "policy name applied to hosts absent from --host-policy")
	flags.StringToString("host-policy", nil, "host=policy pairs overriding --default-policy for specific hosts")
	flags.String("metrics-addr", "127.0.0.1:9090", "address for /metrics, /health, /ready, /live")

	rootCmd.AddCommand(enrollCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func runServe(cmd *cobra.Command, args []string) error {
	manifestPath, _ := cmd.Flags().GetString("manifest")
	if manifestPath == "" {
		return fmt.Errorf("--manifest is required")
	}
	masterKey, _ := cmd.Flags().GetString("master-key")
	if masterKey == "" {
		return fmt.Errorf("--master-key is required")
	}
	listenAddr, _ := cmd.Flags().GetString("listen")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	defaultPolicy, _ := cmd.Flags().GetString("default-policy")
	hostPolicies, _ := cmd.Flags().GetStringToString("host-policy")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	f, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	m, err := manifest.Load(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	mst, err := master.New(master.Config{
		ListenAddr:          listenAddr,
		DataDir:             dataDir,
		MasterKeyPassphrase: masterKey,
		Manifest:            m,
		HostPolicies:        hostPolicies,
		DefaultPolicy:       defaultPolicy,
	})
	if err != nil {
		return fmt.Errorf("start master: %w", err)
	}
	defer mst.Close()

	metrics.SetVersion(Version)
	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.WithComponent("master").Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.WithComponent("master").Info().
		Str("listen", listenAddr).
		Str("metrics", metricsAddr).
		Str("version", Version+"+"+Commit).
		Msg("starting")

	return mst.ListenAndServe()
}
