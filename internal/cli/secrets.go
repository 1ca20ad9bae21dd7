package cli

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"agentloop/pkg/config"
)

// EnvPassword unlocks the encrypted secrets file without a prompt, for
// unattended runs.
const EnvPassword = "AGENTLOOP_PASSWORD"

const passwordAttempts = 3

// SecretsCmd returns the secrets command group for the encrypted credential
// store in the state directory.
func SecretsCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted secrets file",
		Long: `Manage secrets.json.enc, the scrypt/AES-GCM encrypted credential store
in the state directory. The loop decrypts it at startup and serves values
through the secret lookup, ahead of environment variables.

Set ` + EnvPassword + ` to skip the password prompt on unattended runs.`,
	}

	cmd.PersistentFlags().StringVarP(&stateDir, "state-dir", "d", ".", "state directory holding the secrets file")

	cmd.AddCommand(secretsSetCmd(&stateDir))
	cmd.AddCommand(secretsListCmd(&stateDir))
	return cmd
}

func secretsSetCmd(stateDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME [NAME...]",
		Short: "Store one or more secrets, prompting for each value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			secrets := map[string]string{}
			var password string
			if config.SecretsFileExists(*stateDir) {
				var err error
				if password, err = promptPassword("Enter the secrets password: "); err != nil {
					return err
				}
				if secrets, err = config.DecryptSecretsFile(*stateDir, password); err != nil {
					return err
				}
			} else {
				var err error
				if password, err = promptNewPassword(); err != nil {
					return err
				}
			}

			for _, name := range args {
				value, err := promptPassword(fmt.Sprintf("Enter value for %s: ", name))
				if err != nil {
					return err
				}
				if value == "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: skipping %s, empty value\n", name)
					continue
				}
				secrets[name] = value
			}

			if err := config.EncryptSecretsFile(*stateDir, password, secrets); err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved %d secrets to the encrypted store (file permissions: 0600)\n", len(secrets))
			return nil
		},
	}
}

func secretsListCmd(stateDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names (never values)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.SecretsFileExists(*stateDir) {
				fmt.Fprintln(cmd.OutOrStdout(), "No secrets file found.")
				return nil
			}
			password, err := promptPassword("Enter the secrets password: ")
			if err != nil {
				return err
			}
			secrets, err := config.DecryptSecretsFile(*stateDir, password)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(secrets))
			for name := range secrets {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// loadSecrets decrypts the secrets file when one exists so secret lookups
// can serve the loop. A run without a password continues with
// environment-only secrets.
func loadSecrets(cmd *cobra.Command, stateDir string) error {
	if !config.SecretsFileExists(stateDir) {
		return nil
	}

	password := os.Getenv(EnvPassword)
	if password == "" && term.IsTerminal(syscall.Stdin) {
		var err error
		if password, err = promptPassword("Enter the secrets password: "); err != nil {
			return err
		}
	}
	if password == "" {
		fmt.Fprintf(cmd.ErrOrStderr(),
			"WARNING: secrets file present but no password available; set %s or run interactively\n", EnvPassword)
		return nil
	}

	secrets, err := config.DecryptSecretsFile(stateDir, password)
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d secrets from the encrypted store\n", len(secrets))
	return nil
}

// promptPassword reads one hidden line from the terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := string(raw)
	for i := range raw {
		raw[i] = 0
	}
	return password, nil
}

// promptNewPassword asks for a new password with confirmation.
func promptNewPassword() (string, error) {
	for attempt := 1; attempt <= passwordAttempts; attempt++ {
		fmt.Print("Enter a new secrets password: ")
		first, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		second, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}

		match := bytes.Equal(first, second)
		password := string(first)
		for i := range first {
			first[i] = 0
		}
		for i := range second {
			second[i] = 0
		}

		if match {
			return password, nil
		}
		if attempt < passwordAttempts {
			fmt.Println("Passwords do not match. Please try again.")
		}
	}
	return "", fmt.Errorf("passwords do not match after %d attempts", passwordAttempts)
}
