package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"vibewatch/internal/config"
	"vibewatch/internal/ingest"
	"vibewatch/internal/storage"
)

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats struct {
			TotalEvents   int64 `json:"total_events"`
			TotalSessions int64 `json:"total_sessions"`
			UnsyncedCount int64 `json:"unsynced_count"`
			TrackedFiles  int64 `json:"tracked_files"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Events", "%d", stats.TotalEvents)
		printStatus("Sessions", "%d", stats.TotalSessions)
		printStatus("Unsynced", "%d", stats.UnsyncedCount)
		printStatus("Tracked files", "%d", stats.TrackedFiles)
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over stored conversation messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/search?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []storage.SearchResult
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [%s, line %d]\n",
				colorize(colorBold, fmt.Sprintf("Result %d", i+1)),
				r.Event.FileName, r.Event.LineNumber)
			if r.Event.EventSessionID != "" {
				fmt.Printf("  Session: %s\n", colorize(colorCyan, r.Event.EventSessionID))
			}
			msg := r.Event.EventMessage
			if len(msg) > 500 {
				msg = msg[:500] + "..."
			}
			fmt.Printf("  %s\n", msg)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 20, "maximum number of results")
}

// --- scope ---

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Manage which events are synced to the remote dashboard",
}

var scopeAddCmd = &cobra.Command{
	Use:   "add all | add session <session-id>",
	Short: "Add a sync scope",
	Long: `Add a standing sync scope.

Examples:
  vibewatch scope add all
  vibewatch scope add session 3f6c9a12-88e1-4f02-b6d3-0a9f4a7c5e21`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		scopeType := args[0]
		sessionID := ""
		if len(args) == 2 {
			sessionID = args[1]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"scope_type": scopeType}
		if sessionID != "" {
			body["session_id"] = sessionID
		}

		resp, err := client.post(cmd.Context(), "/scopes", body)
		if err != nil {
			return err
		}

		var scope storage.SyncScope
		if err := decodeJSON(resp, &scope); err != nil {
			return err
		}

		if scope.ScopeType == storage.ScopeAll {
			printSuccess("Syncing all events (scope %s)", scope.ID)
		} else {
			printSuccess("Syncing session %s (scope %s)", scope.SessionID, scope.ID)
		}
		return nil
	},
}

var scopeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync scopes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/scopes")
		if err != nil {
			return err
		}

		var scopes []storage.SyncScope
		if err := decodeJSON(resp, &scopes); err != nil {
			return err
		}

		if len(scopes) == 0 {
			fmt.Println("No sync scopes configured.")
			return nil
		}

		for _, sc := range scopes {
			state := "active"
			if !sc.Active {
				state = "inactive"
			}
			target := "all events"
			if sc.ScopeType == storage.ScopeSession {
				target = "session " + sc.SessionID
			}
			fmt.Printf("%s  %-8s  %s\n", colorize(colorCyan, sc.ID), state, target)
		}
		return nil
	},
}

var scopeRemoveCmd = &cobra.Command{
	Use:   "remove <scope-id>",
	Short: "Deactivate a sync scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/scopes/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Scope %s removed", args[0])
		return nil
	},
}

func init() {
	scopeCmd.AddCommand(scopeAddCmd)
	scopeCmd.AddCommand(scopeListCmd)
	scopeCmd.AddCommand(scopeRemoveCmd)
}

// --- skip ---

var skipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Fast-forward past existing history without ingesting it",
	Long: `Mark every conversation file as fully processed at its current length.
Only lines appended after this point will be ingested. Run this before the
first start to avoid importing the entire backlog.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir, cfg.User.Name)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		printStep("Fast-forwarding files under %s...", cfg.Watch.Dir)
		n, err := ingest.FastForward(store, cfg.Watch.Dir)
		if err != nil {
			return err
		}

		printSuccess("Skipped to end of %d file(s)", n)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  (env %s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
