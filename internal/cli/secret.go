package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/storage"
)

func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash of a client secret or user password",
		Long: `Prints a bcrypt hash for use as a client secret_hash or a user
password_hash. The secret is read from standard input when not given as an
argument, which keeps it out of the shell history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plaintext string
			if len(args) == 1 {
				plaintext = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("failed to read secret: %w", err)
				}
				plaintext = strings.TrimRight(line, "\r\n")
			}
			if plaintext == "" {
				return errors.New("secret must not be empty")
			}

			secret, err := storage.HashSecret(plaintext)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret.Hash())
			return nil
		},
	}
}

func newGenSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-secret",
		Short: "Print a random 256-bit key, base64 encoded",
		Long: `Prints a random key suitable for tokens.secret (stateless token
signing) or storage.valkey.encryption_key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := security.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), security.KeyToBase64(key))
			return nil
		},
	}
}
