package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plotchat/plotchat/internal/credentials"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Save a relay access token",
	Long: `Saves the token used to authenticate against the hosted relay.
The token is stored in the plotchat config directory with owner-only
permissions. PLOTCHAT_RELAY_TOKEN in the environment takes precedence
over the saved token.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := strings.TrimSpace(args[0])
		if token == "" {
			return fmt.Errorf("empty token")
		}
		if err := credentials.SaveRelayToken(token); err != nil {
			return err
		}
		fmt.Println("relay token saved")
		return nil
	},
}
