package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/go-chatterbox/internal/voice"
)

func newVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "Manage enrolled voice profiles",
	}

	cmd.AddCommand(newVoicesListCmd())
	cmd.AddCommand(newVoicesDeleteCmd())
	return cmd
}

func openVoiceStore() (*voice.Store, error) {
	cfg, err := requireConfig()
	if err != nil {
		return nil, err
	}
	return voice.NewStore(cfg.Paths.VoicesDir, cfg.Paths.AudioInputDir)
}

func newVoicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrolled and predefined voices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openVoiceStore()
			if err != nil {
				return err
			}

			enrolled, err := store.List()
			if err != nil {
				return err
			}
			predefined, err := store.Predefined()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tNAME\tKIND\tCREATED")
			for _, m := range enrolled {
				_, _ = fmt.Fprintf(tw, "%s\t%s\tenrolled\t%s\n", m.ID, m.Name, m.CreatedAt.Format("2006-01-02 15:04"))
			}
			for _, name := range predefined {
				_, _ = fmt.Fprintf(tw, "%s\t%s\tpredefined\t-\n", name, name)
			}
			return tw.Flush()
		},
	}
}

func newVoicesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <voice-id>",
		Short: "Delete an enrolled voice profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openVoiceStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}
