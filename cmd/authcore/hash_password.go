package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/schoolnotes/authcore/password"
)

const minPasswordLength = 8

// NewHashPasswordCmd creates a command that prints the PHC hash of a
// password read from stdin. Used to seed accounts by hand.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return oops.Code("INPUT_REQUIRED").Errorf("no password on stdin")
			}
			plaintext := strings.TrimRight(line, "\r\n")
			if len([]rune(plaintext)) < minPasswordLength {
				return oops.Code("INPUT_INVALID").Errorf("password must be at least %d characters", minPasswordLength)
			}

			hasher, err := password.NewArgon2(password.DefaultConfig())
			if err != nil {
				return oops.Code("HASHER_INIT_FAILED").Wrap(err)
			}
			hash, err := hasher.Hash(plaintext)
			if err != nil {
				return oops.Code("HASH_FAILED").Wrap(err)
			}

			cmd.Println(hash)
			return nil
		},
	}
}
