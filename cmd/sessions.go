package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plotchat/plotchat/internal/config"
	"github.com/plotchat/plotchat/internal/session"
)

var flagSessionLimit int

func init() {
	sessionsCmd.Flags().IntVarP(&flagSessionLimit, "limit", "n", 20, "Number of sessions to show")
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := config.GetDataDir()
		if err != nil {
			return err
		}
		store, err := session.Open(filepath.Join(dataDir, "sessions.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.ListSessions(flagSessionLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions recorded yet")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tPROVIDER\tMODEL\tTOOLS\tTOKENS\tTITLE")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\n",
				s.UpdatedAt.Format("2006-01-02 15:04"),
				s.Provider, s.Model, s.ToolCalls,
				s.InputTokens, s.OutputTokens, s.Title)
		}
		return w.Flush()
	},
}
