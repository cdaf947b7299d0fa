package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jameshunt/clockwork/pkg/master"
	"github.com/jameshunt/clockwork/pkg/security"
)

// enrollCmd signs a CSR an operator received out of band from a new host
// (via GenerateEnrollmentCSR on the agent side) and writes the resulting
// certificate chain back out. It does not list, revoke, or otherwise
// administer certificates after the fact; that surface stays out of
// scope, enrollment is the one operation an operator cannot get to any
// other way.
var enrollCmd = &cobra.Command{
	Use:   "enroll HOST",
	Short: "sign a new host's certificate signing request",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnroll,
}

func init() {
	enrollCmd.Flags().String("csr", "", "path to the host's PEM-encoded CSR (required)")
	enrollCmd.Flags().String("out", "", "path to write the signed certificate chain (required)")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	host := args[0]

	csrPath, _ := cmd.Flags().GetString("csr")
	outPath, _ := cmd.Flags().GetString("out")
	if csrPath == "" || outPath == "" {
		return fmt.Errorf("--csr and --out are required")
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	masterKey, _ := cmd.Flags().GetString("master-key")
	if dataDir == "" || masterKey == "" {
		return fmt.Errorf("--data-dir and --master-key are required")
	}

	csrPEM, err := os.ReadFile(csrPath)
	if err != nil {
		return fmt.Errorf("read csr: %w", err)
	}

	mst, err := master.New(master.Config{DataDir: dataDir, MasterKeyPassphrase: masterKey})
	if err != nil {
		return fmt.Errorf("open master state: %w", err)
	}
	defer mst.Close()

	certDER, err := mst.IssueCertificate(host, csrPEM)
	if err != nil {
		return fmt.Errorf("issue certificate: %w", err)
	}

	chain := append(security.EncodeCertPEM(certDER), security.EncodeCertPEM(mst.RootCACert())...)
	if err := os.WriteFile(outPath, chain, 0644); err != nil {
		return fmt.Errorf("write certificate chain: %w", err)
	}

	fmt.Printf("issued certificate for %s, written to %s\n", host, outPath)
	return nil
}
