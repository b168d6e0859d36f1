package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage channel-instance agents",
	}
	cmd.AddCommand(agentAddCmd())
	return cmd
}

func agentAddCmd() *cobra.Command {
	var (
		instanceID    string
		bridgeToken   string
		fullName      string
		assistantName string
		style         string
		instruction   string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an agent for a channel instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if instanceID == "" {
				return fmt.Errorf("--instance is required")
			}
			if bridgeToken == "" {
				bridgeToken = os.Getenv("WARELAY_BRIDGE_TOKEN")
			}
			if bridgeToken == "" {
				return fmt.Errorf("--token or WARELAY_BRIDGE_TOKEN is required")
			}

			stores, err := openStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			ag := &store.Agent{
				InstanceID:        instanceID,
				BridgeToken:       bridgeToken,
				FullName:          fullName,
				AssistantName:     assistantName,
				SpeakingStyle:     style,
				CustomInstruction: instruction,
				Active:            true,
			}
			if err := stores.Agents.Put(context.Background(), ag); err != nil {
				return err
			}
			fmt.Printf("agent %s registered for instance %s\n", ag.ID, instanceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "channel instance ID")
	cmd.Flags().StringVar(&bridgeToken, "token", "", "bridge API token (or WARELAY_BRIDGE_TOKEN)")
	cmd.Flags().StringVar(&fullName, "name", "", "agent full name")
	cmd.Flags().StringVar(&assistantName, "assistant", "Aria", "assistant display name")
	cmd.Flags().StringVar(&style, "style", "warm and professional", "assistant speaking style")
	cmd.Flags().StringVar(&instruction, "instruction", "", "extra persona instruction")
	return cmd
}

func listingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listing",
		Short: "Manage property listings",
	}
	cmd.AddCommand(listingImportCmd())
	return cmd
}

// listingImportCmd loads listings from a JSON array file into an agent's
// inventory.
func listingImportCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import listings from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aid, err := uuid.Parse(agentID)
			if err != nil {
				return fmt.Errorf("invalid --agent ID: %w", err)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read listings file: %w", err)
			}
			var listings []store.Listing
			if err := json.Unmarshal(data, &listings); err != nil {
				return fmt.Errorf("parse listings file: %w", err)
			}

			stores, err := openStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			for i := range listings {
				listings[i].AgentID = aid
				listings[i].Active = true
				if err := stores.Listings.Put(context.Background(), &listings[i]); err != nil {
					return fmt.Errorf("import listing %q: %w", listings[i].Title, err)
				}
			}
			fmt.Printf("imported %d listings\n", len(listings))
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent ID the listings belong to")
	cmd.MarkFlagRequired("agent")
	return cmd
}
