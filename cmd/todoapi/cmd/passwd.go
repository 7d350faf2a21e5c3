package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/todoapi/auth"
)

var hashCost int

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Password policy and hashing tools",
}

var passwdCheckCmd = &cobra.Command{
	Use:   "check [password]",
	Short: "Check a password against the registration policy",
	Long: `Check a password against the registration policy and report the first
rule it breaks. Without an argument the password is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordArg(cmd, args)
		if err != nil {
			return err
		}
		if err := auth.ValidatePassword(password); err != nil {
			var v *auth.PolicyViolation
			if errors.As(err, &v) {
				return fmt.Errorf("rule %d (%s): %s", int(v.Rule), v.Rule, v.Reason)
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "password satisfies the policy")
		return nil
	},
}

var passwdHashCmd = &cobra.Command{
	Use:   "hash [password]",
	Short: "Print the bcrypt hash of a password",
	Long: `Print the bcrypt hash the server would store for a password. The
password must satisfy the registration policy. Without an argument the
password is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordArg(cmd, args)
		if err != nil {
			return err
		}
		if err := auth.ValidatePassword(password); err != nil {
			return err
		}
		hash, err := auth.NewHasher(hashCost).Hash(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

// passwordArg returns the first argument or, when there is none, the first
// line of stdin.
func passwordArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return "", errors.New("no password given")
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}

func init() {
	rootCmd.AddCommand(passwdCmd)
	passwdCmd.AddCommand(passwdCheckCmd, passwdHashCmd)
	passwdHashCmd.Flags().IntVar(&hashCost, "cost", bcrypt.DefaultCost, "bcrypt cost")
}
