package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/rehearse/internal/config"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/profile"
)

func profilePath(suffix string) string {
	return "/profiles/" + url.PathEscape(candidate) + suffix
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the candidate profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), profilePath("/"))
		if err != nil {
			return err
		}

		var p interview.CandidateProfile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field",
	Long: "Set a profile field. List fields take comma-separated values.\n\nKeys: " +
		strings.Join(profile.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), profilePath("/"), map[string]string{"key": key, "value": value})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the profile JSON in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), profilePath("/"))
		if err != nil {
			return err
		}
		var p interview.CandidateProfile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}

		tmpFile, err := os.CreateTemp("", "rehearse-profile-*.json")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := tmpFile.Write(data); err != nil {
			tmpFile.Close()
			return err
		}
		tmpFile.Close()

		editorCmd := exec.Command(editor, tmpPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		if err := editorCmd.Run(); err != nil {
			return fmt.Errorf("editor exited with error: %w", err)
		}

		edited, err := os.ReadFile(tmpPath)
		if err != nil {
			return err
		}

		var updated interview.CandidateProfile
		if err := json.Unmarshal(edited, &updated); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		putResp, err := client.put(cmd.Context(), profilePath("/"), updated)
		if err != nil {
			return err
		}
		if err := decodeJSON(putResp, nil); err != nil {
			return err
		}

		printSuccess("Profile updated")
		return nil
	},
}

var profileImportCmd = &cobra.Command{
	Use:   "import-resume <file>",
	Short: "Store a résumé (PDF or text) on the profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading résumé: %w", err)
		}

		contentType := "text/plain; charset=utf-8"
		switch strings.ToLower(filepath.Ext(args[0])) {
		case ".pdf":
			contentType = "application/pdf"
		case ".html", ".htm":
			contentType = "text/html; charset=utf-8"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := profilePath("/resume")
		if fill, _ := cmd.Flags().GetBool("fill"); fill {
			path += "?extract=true"
		}
		resp, err := client.upload(cmd.Context(), path, contentType, data)
		if err != nil {
			return err
		}

		var result struct {
			Characters int      `json:"characters"`
			Filled     []string `json:"filled"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored résumé (%d characters)", result.Characters)
		if len(result.Filled) > 0 {
			printSuccess("Filled profile fields: %s", strings.Join(result.Filled, ", "))
		}
		return nil
	},
}

var profileReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the candidate's context index",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), profilePath("/reindex"), nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Reindex queued for %s", candidate)
		return nil
	},
}

func init() {
	profileImportCmd.Flags().Bool("fill", false, "fill empty profile fields from the résumé")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileEditCmd)
	profileCmd.AddCommand(profileImportCmd)
	profileCmd.AddCommand(profileReindexCmd)
}

// --- context ---

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Search the candidate's indexed history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("%s?q=%s&limit=%d", profilePath("/context"), url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []interview.Snippet
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [%s, score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.SourceType, r.Score)
			text := r.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	contextCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage interview sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the candidate's sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/sessions?candidate_id=%s&limit=%d&offset=%d", url.QueryEscape(candidate), limit, offset)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var sessions []interview.SessionSummary
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		for _, s := range sessions {
			score := "  -"
			if s.OverallScore != nil {
				score = formatScore(*s.OverallScore)
			}
			fmt.Printf("%s  %s  %-10s %-13s %-6s %2d answered  %s\n",
				colorize(colorCyan, s.ID[:min(8, len(s.ID))]),
				s.CreatedAt.Local().Format("2006-01-02 15:04"),
				s.Status,
				s.Type,
				s.Difficulty,
				s.QuestionsAnswered,
				score,
			)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session with its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var s interview.Session
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		if asJSON {
			return printJSON(s)
		}

		fmt.Printf("%s %s interview (%s), %s\n", colorize(colorBold, s.ID), s.Config.Type.Label(), s.Config.Difficulty, s.Status)
		for _, t := range s.Turns {
			who := colorize(colorCyan, "Interviewer")
			if t.Role == interview.RoleCandidate {
				who = colorize(colorGreen, "You")
			}
			fmt.Printf("\n%s: %s\n", who, t.Content)
		}
		if s.Assessment != nil {
			fmt.Println()
			writeAssessment(os.Stdout, *s.Assessment)
		}
		return nil
	},
}

// sessionAction posts to a session sub-resource and prints the assessment
// it returns.
func sessionAction(action, done string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <session-id>",
		Short: done,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			resp, err := client.post(cmd.Context(), "/sessions/"+url.PathEscape(args[0])+"/"+action, nil)
			if err != nil {
				return err
			}

			var a interview.Assessment
			if err := decodeJSON(resp, &a); err != nil {
				return err
			}
			writeAssessment(os.Stdout, a)
			return nil
		},
	}
}

var sessionsAbandonCmd = &cobra.Command{
	Use:   "abandon <session-id>",
	Short: "Abandon an active session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sessions/"+url.PathEscape(args[0])+"/abandon", nil)
		if err != nil {
			return err
		}

		var sum interview.SessionSummary
		if err := decodeJSON(resp, &sum); err != nil {
			return err
		}

		printSuccess("Session %s %s after %d answers", sum.ID, sum.Status, sum.QuestionsAnswered)
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsListCmd.Flags().Int("offset", 0, "number of sessions to skip")
	sessionsShowCmd.Flags().Bool("json", false, "print the raw session JSON")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionAction("complete", "Complete an active session and score it"))
	sessionsCmd.AddCommand(sessionAction("assess", "Score a finished session again"))
	sessionsCmd.AddCommand(sessionsAbandonCmd)
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nKeys: " + strings.Join(config.ValidKeys(), ", "),
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

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret in the platform secret store",
	Long:  "Store a secret in the platform secret store.\n\nKeys: " + strings.Join(config.SecretKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
