package cmd

import (
	"github.com/spf13/cobra"

	"cifleet/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Create API tokens for the controller",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random token and its hash",
	Long: `Generate a random API token. Give the token to clients as CIFLEET_TOKEN and
set the hash as INTERNAL_TOKEN_HASH on the controller.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		token, err := auth.GenerateKey()
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		cmd.Printf("Token: %s\n", token)
		cmd.Printf("Hash:  %s\n", auth.HashKey(token))
	},
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash [token]",
	Short: "Print the hash of an existing token",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(auth.HashKey(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenGenerateCmd, tokenHashCmd)
}
