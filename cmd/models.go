package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/plotchat/plotchat/internal/llm"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on the active provider's endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		transport, err := llm.ResolveTransport(cfg.DefaultProvider, cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		models, err := llm.ListModels(ctx, transport)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tOWNER\tCREATED")
		for _, m := range models {
			created := ""
			if m.Created > 0 {
				created = time.Unix(m.Created, 0).Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.OwnedBy, created)
		}
		return w.Flush()
	},
}
