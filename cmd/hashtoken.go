package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/channelhost/host/internal/auth"
)

func newHashTokenCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash of a bearer token for auth_token_hash",
		Long: `Print the bcrypt hash to put in auth_token_hash.

The token is read from the argument, or from the first line of stdin when
no argument is given, so it need not appear in shell history.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				token = strings.TrimRight(line, "\r\n")
			}
			if token == "" {
				return fmt.Errorf("token must not be empty")
			}

			hash, err := auth.HashToken(token, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
