package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/postfiatorg/validator-history-service/internal/attestation"
	"github.com/postfiatorg/validator-history-service/internal/config"
	"github.com/postfiatorg/validator-history-service/internal/manifest"
)

var decodeCmd = &cobra.Command{
	Use:     "decode <manifest>",
	Short:   "Decode a hex or base64 manifest and check its signature",
	GroupID: "inspect",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := manifest.Normalize(manifest.Text(args[0]))
		if err != nil {
			return err
		}
		m, err := p.Model()
		if err != nil {
			return err
		}
		m.SignatureVerified = manifest.VerifySignature(p) == nil
		if jsonOutput {
			printJSON(m)
			return nil
		}
		printManifest(m)
		return nil
	},
}

var verifyDomainCmd = &cobra.Command{
	Use:     "verify-domain <manifest>",
	Short:   "Verify the domain claim of a manifest against its trust file",
	GroupID: "inspect",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		verdict, err := newVerifier(cfg).Verify(context.Background(), manifest.Text(args[0]))
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(verdict)
		} else {
			printVerdict(verdict)
		}
		if !verdict.Verified {
			// Exit non-zero without repeating the message on stderr.
			fmt.Fprintln(os.Stderr, attestation.Err(verdict))
			os.Exit(2)
		}
		return nil
	},
}
