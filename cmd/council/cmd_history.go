package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"council/internal/history"
)

// historyCmd groups the conversation log subcommands
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded council conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(cfg.History.Path, cfg.History.Limit, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.List()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("no recorded conversations")
			return nil
		}
		for _, m := range items {
			fmt.Printf("%s  %s  [%d participants, %d tokens]\n  %s\n",
				m.ID, m.Timestamp.Local().Format("2006-01-02 15:04"),
				m.Participants, m.TotalTokens, m.Query)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one recorded conversation in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(cfg.History.Path, cfg.History.Limit, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("query: %s\nwhen:  %s\n\n", rec.Query, rec.Timestamp.Local().Format("2006-01-02 15:04:05"))

		ids := make([]string, 0, len(rec.Responses))
		for id := range rec.Responses {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			r := rec.Responses[id]
			fmt.Printf("--- %s (%d tokens) ---\n%s\n\n", id, r.Tokens, r.Content)
		}

		fmt.Printf("=== final answer (%d tokens) ===\n%s\n", rec.FinalAnswer.Tokens, rec.FinalAnswer.Content)
		if rec.TotalTokens > 0 {
			fmt.Printf("\ntotal: %d tokens, %.4f cost\n", rec.TotalTokens, rec.TotalCost)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recorded conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(cfg.History.Path, cfg.History.Limit, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Clear()
	},
}
