package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/internal/config"
	"github.com/Windscribe/goproxy-intercept/internal/signer"
)

const caOrganization = "Intercept Proxy"

func newCACmd() *cobra.Command {
	var (
		certFile, keyFile, org string
		validity               time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Generate the certificate authority used to intercept HTTPS",
		Long: `Generate a certificate authority for INTERCEPT_CA_CERT and INTERCEPT_CA_KEY.
Clients must trust the certificate for HTTPS interception to go unnoticed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ca, err := signer.NewCA(org, validity)
			if err != nil {
				return err
			}
			if err := writePEM(certFile, 0o644, ca, signer.WriteCertificate); err != nil {
				return err
			}
			if err := writePEM(keyFile, 0o600, ca, signer.WriteKey); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "certificate written to %s, key to %s\n", certFile, keyFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&certFile, "cert", "ca.pem", "certificate output file")
	cmd.Flags().StringVar(&keyFile, "key", "ca-key.pem", "private key output file")
	cmd.Flags().StringVar(&org, "org", caOrganization, "organization name of the authority")
	cmd.Flags().DurationVar(&validity, "validity", 5*365*24*time.Hour, "how long the authority is valid")
	return cmd
}

func writePEM(path string, perm os.FileMode, ca tls.Certificate, write func(w io.Writer, cert tls.Certificate) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if err := write(f, ca); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// loadCA returns the configured authority, or a throwaway one clients can
// fetch from the proxy at /ca.pem.
func loadCA(cfg config.Config, logger goproxy.Logger) (tls.Certificate, error) {
	if cfg.CACert != "" {
		return signer.LoadCA(cfg.CACert, cfg.CAKey)
	}
	logger.Warnf(0, "No CA configured, generated one for this run only, fetch it from http://%s/ca.pem", cfg.Listen)
	return signer.NewCA(caOrganization, 30*24*time.Hour)
}

// caHandler answers requests made to the proxy itself.
func caHandler(ca tls.Certificate, fallback http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ca.pem", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Header().Set("Content-Disposition", `attachment; filename="interceptproxy-ca.pem"`)
		_ = signer.WriteCertificate(w, ca)
	})
	mux.Handle("/", fallback)
	return mux
}
