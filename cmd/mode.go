package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warelay/internal/authority"
	"github.com/nextlevelbuilder/warelay/internal/config"
	"github.com/nextlevelbuilder/warelay/internal/store"
	"github.com/nextlevelbuilder/warelay/internal/store/db"
)

func modeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Inspect or switch a conversation's authority mode",
	}
	cmd.AddCommand(modeGetCmd())
	cmd.AddCommand(modeSetCmd("human", store.ModeHuman, "Hand the conversation to a human operator"))
	cmd.AddCommand(modeSetCmd("auto", store.ModeAutomated, "Return the conversation to the automated responder"))
	return cmd
}

func openStores() (*store.Stores, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return db.NewStores(cfg.DatabaseDSN())
}

func modeGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <conversation-id>",
		Short: "Show the current authority mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation ID: %w", err)
			}
			stores, err := openStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			conv, err := stores.Conversations.Get(context.Background(), id)
			if err != nil {
				return err
			}
			fmt.Printf("conversation: %s\ncontact:      %s (%s)\nmode:         %s (changed %s by %s)\n",
				conv.ID, conv.ContactID, conv.ContactName, conv.Mode,
				conv.ModeChangedAt.Format("2006-01-02 15:04:05"), conv.ModeChangedBy)
			return nil
		},
	}
}

func modeSetCmd(use string, target store.Mode, short string) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   use + " <conversation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conversation ID: %w", err)
			}
			stores, err := openStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			auth := authority.New(stores.Conversations, stores.Modes)
			prev, err := auth.Set(context.Background(), id, target, actor, authority.ReasonOperatorToggle)
			if err != nil {
				return err
			}
			fmt.Printf("mode: %s -> %s\n", prev, target)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded in the transition log")
	return cmd
}
