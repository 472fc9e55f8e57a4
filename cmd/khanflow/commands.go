package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/khanflow/assistant/internal/config"
)

type turnResult struct {
	ConversationID string   `json:"conversation_id"`
	AssistantReply string   `json:"assistant_reply"`
	Step           string   `json:"step"`
	Status         string   `json:"status"`
	PendingFields  []string `json:"pending_fields"`
}

func printTurn(t turnResult) {
	fmt.Printf("%s %s\n", colorize(colorBold, "assistant:"), t.AssistantReply)
	if t.Status == "completed" {
		printSuccess("Conversation %s completed", t.ConversationID)
		return
	}
	printStatus("Conversation", "%s (%s)", t.ConversationID, t.Step)
}

// --- new ---

var newCmd = &cobra.Command{
	Use:   "new <utterance>",
	Short: "Start a new capture conversation",
	Long: `Start a new capture conversation with an initial utterance.

Examples:
  khanflow new "remind me to buy milk tomorrow"
  khanflow new --user erik --timezone Europe/Amsterdam "meeting with Sam on Friday at 2pm"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		utterance := strings.Join(args, " ")
		user, _ := cmd.Flags().GetString("user")
		timezone, _ := cmd.Flags().GetString("timezone")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]string{"user_id": user}
		if timezone != "" {
			body["user_timezone"] = timezone
		}
		resp, err := client.post(cmd.Context(), "/conversations", body)
		if err != nil {
			return err
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		resp, err = client.post(cmd.Context(), "/conversations/"+created.ID+"/turns", map[string]string{"text": utterance})
		if err != nil {
			return err
		}
		var turn turnResult
		if err := decodeJSON(resp, &turn); err != nil {
			return err
		}

		printTurn(turn)
		return nil
	},
}

func init() {
	newCmd.Flags().String("user", "me", "user id owning the conversation")
	newCmd.Flags().String("timezone", "", "IANA timezone for date resolution")
}

// --- say ---

var sayCmd = &cobra.Command{
	Use:   "say <conversation-id> [utterance]",
	Short: "Send the next utterance to a conversation",
	Long: `Send the next utterance to an ongoing conversation, as text or audio.

Examples:
  khanflow say 4f1c22 "tomorrow at 3pm"
  khanflow say 4f1c22 --audio ./turn.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		audioPath, _ := cmd.Flags().GetString("audio")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if audioPath != "" {
			data, err := os.ReadFile(audioPath)
			if err != nil {
				return fmt.Errorf("reading audio file: %w", err)
			}
			body := map[string]string{
				"audio":     base64.StdEncoding.EncodeToString(data),
				"mime_type": mime.TypeByExtension(filepath.Ext(audioPath)),
			}
			resp, err := client.post(cmd.Context(), "/conversations/"+id+"/turns", body)
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Audio queued for transcription; run `khanflow show %s` for the reply", id)
			return nil
		}

		if len(args) < 2 {
			return fmt.Errorf("utterance or --audio is required")
		}
		utterance := strings.Join(args[1:], " ")

		resp, err := client.post(cmd.Context(), "/conversations/"+id+"/turns", map[string]string{"text": utterance})
		if err != nil {
			return err
		}
		var turn turnResult
		if err := decodeJSON(resp, &turn); err != nil {
			return err
		}

		printTurn(turn)
		return nil
	},
}

func init() {
	sayCmd.Flags().String("audio", "", "path to an audio file to transcribe instead of text")
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/conversations?limit=%d", limit)
		if user != "" {
			path += "&user_id=" + user
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var convs []struct {
			ID          string `json:"id"`
			UserID      string `json:"user_id"`
			Status      string `json:"status"`
			CurrentStep string `json:"current_step"`
			IntentType  string `json:"intent_type"`
			CreatedAt   string `json:"created_at"`
		}
		if err := decodeJSON(resp, &convs); err != nil {
			return err
		}

		if len(convs) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range convs {
			label := c.Status
			if c.Status == "active" {
				label = c.Status + "/" + c.CurrentStep
			}
			intentType := c.IntentType
			if intentType == "" {
				intentType = "-"
			}
			fmt.Printf("%s  %s  %-22s %-22s %s\n",
				colorize(colorCyan, c.ID[:8]),
				c.CreatedAt,
				label,
				intentType,
				c.UserID,
			)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 20, "maximum number of conversations to list")
	listCmd.Flags().String("user", "", "filter by user id")
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show a conversation's state and transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/conversations/"+args[0])
		if err != nil {
			return err
		}

		var conv struct {
			ID            string          `json:"id"`
			Status        string          `json:"status"`
			CurrentStep   string          `json:"current_step"`
			IntentType    string          `json:"intent_type"`
			Extracted     json.RawMessage `json:"extracted"`
			PendingFields []string        `json:"pending_fields"`
			Messages      []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}

		printStatus("Conversation", "%s", conv.ID)
		printStatus("Status", "%s (%s)", conv.Status, conv.CurrentStep)
		if conv.IntentType != "" {
			printStatus("Intent", "%s", conv.IntentType)
		}
		if len(conv.PendingFields) > 0 {
			printStatus("Waiting for", "%s", strings.Join(conv.PendingFields, ", "))
		}
		if len(conv.Extracted) > 0 && string(conv.Extracted) != "{}" {
			printStatus("Captured", "%s", string(conv.Extracted))
		}
		fmt.Println()
		for _, m := range conv.Messages {
			role := m.Role
			if role == "assistant" {
				role = colorize(colorGreen, role)
			} else {
				role = colorize(colorBold, role)
			}
			fmt.Printf("[%s] %s\n", role, m.Content)
		}
		return nil
	},
}

// --- abandon ---

var abandonCmd = &cobra.Command{
	Use:   "abandon <conversation-id>",
	Short: "Abandon a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		purge, _ := cmd.Flags().GetBool("purge")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/conversations/" + args[0]
		if purge {
			path += "?purge=true"
		}
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Conversation %s %s", args[0], result["status"])
		return nil
	},
}

func init() {
	abandonCmd.Flags().Bool("purge", false, "delete the conversation and its messages entirely")
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage capture preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current preferences as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/preferences")
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a preference (timezone, task_app, calendar_app)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/preferences", map[string]string{key: value})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
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
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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
