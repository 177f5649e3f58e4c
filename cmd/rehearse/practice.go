package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/kalambet/rehearse/internal/api"
	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/orchestrator"
)

// Typed in place of an answer.
const (
	cmdDone = "/done"
	cmdQuit = "/quit"
)

const (
	choiceRetry   = "Retry the question"
	choiceFinish  = "Finish and score what I have"
	choiceAbandon = "Abandon the session"
)

var errAbandoned = errors.New("session abandoned")

// Terminal prompts; replaced in tests.
var (
	readAnswer = func(label string) (string, error) {
		p := promptui.Prompt{Label: label}
		return p.Run()
	}
	choose = func(label string, items []string) (string, error) {
		s := promptui.Select{Label: label, Items: items}
		_, choice, err := s.Run()
		return choice, err
	}
)

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Run mock interviews",
}

var practiceCmd = &cobra.Command{
	Use:   "practice",
	Short: "Start an interactive mock interview",
	Long: `Start an interactive mock interview in the terminal.

Type your answer and press ENTER. Type /done to finish early and get scored,
or /quit to abandon the session. Ctrl+C finishes and scores.

Examples:
  rehearse interview practice --type behavioral
  rehearse interview practice --type system_design --difficulty hard --company Acme`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var req api.StartRequest
		req.CandidateID = candidate

		typ, _ := cmd.Flags().GetString("type")
		difficulty, _ := cmd.Flags().GetString("difficulty")
		req.RoleContext, _ = cmd.Flags().GetString("role")
		req.CompanyContext, _ = cmd.Flags().GetString("company")
		req.CustomInstructions, _ = cmd.Flags().GetString("instructions")
		req.MaxQuestions, _ = cmd.Flags().GetInt("max-questions")
		req.Difficulty = interview.Difficulty(difficulty)

		if typ == "" {
			items := make([]string, len(interview.Types))
			for i, t := range interview.Types {
				items[i] = string(t)
			}
			choice, err := choose("Interview type", items)
			if err != nil {
				return err
			}
			typ = choice
		}
		req.Type = interview.Type(typ)

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		err = runPractice(cmd.Context(), client, os.Stdout, req)
		if errors.Is(err, errAbandoned) {
			printWarning("Session abandoned")
			return nil
		}
		return err
	},
}

func init() {
	practiceCmd.Flags().String("type", "", "interview type: behavioral, technical, case, system_design, general")
	practiceCmd.Flags().String("difficulty", "", "easy, medium or hard (default: profile preference)")
	practiceCmd.Flags().String("role", "", "role being interviewed for")
	practiceCmd.Flags().String("company", "", "company being interviewed with")
	practiceCmd.Flags().String("instructions", "", "extra instructions for the interviewer")
	practiceCmd.Flags().Int("max-questions", 0, "number of questions (default: server policy)")
	interviewCmd.AddCommand(practiceCmd)
}

// runPractice drives one interview over the HTTP API until it is scored
// or abandoned.
func runPractice(ctx context.Context, c *apiClient, w io.Writer, req api.StartRequest) error {
	resp, err := c.post(ctx, "/sessions", req)
	if err != nil {
		return err
	}
	var start orchestrator.StartResult
	if err := decodeJSON(resp, &start); err != nil {
		return err
	}
	sessionPath := "/sessions/" + url.PathEscape(start.SessionID)

	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Session"), start.SessionID)
	writeInterviewer(w, start.OpeningMessage)

	for {
		answer, err := readAnswer("You")
		switch {
		case errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
			return completeSession(ctx, c, w, sessionPath)
		case err != nil:
			return err
		}

		answer = strings.TrimSpace(answer)
		switch answer {
		case "":
			continue
		case cmdDone:
			return completeSession(ctx, c, w, sessionPath)
		case cmdQuit:
			return abandonSession(ctx, c, sessionPath)
		}

		resp, err := c.post(ctx, sessionPath+"/answers", orchestrator.AnswerInput{Text: answer})
		if err != nil {
			return err
		}
		var res orchestrator.AnswerResult
		if err := decodeJSON(resp, &res); err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status < 500 {
				// Rate limited or rejected; the session is unchanged.
				printWarning("%s", apiErr.Message)
				continue
			}
			return err
		}

		for res.GenerationError != "" {
			printWarning("The interviewer could not continue: %s", res.GenerationError)
			items := []string{choiceFinish, choiceAbandon}
			if res.Retryable {
				items = append([]string{choiceRetry}, items...)
			}
			choice, err := choose("What next?", items)
			if err != nil {
				return err
			}
			switch choice {
			case choiceFinish:
				return completeSession(ctx, c, w, sessionPath)
			case choiceAbandon:
				return abandonSession(ctx, c, sessionPath)
			}

			resp, err := c.post(ctx, sessionPath+"/resume", nil)
			if err != nil {
				return err
			}
			res = orchestrator.AnswerResult{}
			if err := decodeJSON(resp, &res); err != nil {
				return err
			}
		}

		writeInterviewer(w, res.Message)
		if res.ReadyToComplete {
			return completeSession(ctx, c, w, sessionPath)
		}
	}
}

func writeInterviewer(w io.Writer, msg string) {
	if msg == "" {
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", colorize(colorCyan, "Interviewer:"), msg)
}

func completeSession(ctx context.Context, c *apiClient, w io.Writer, sessionPath string) error {
	printStep("Scoring your interview...")
	resp, err := c.post(ctx, sessionPath+"/complete", nil)
	if err != nil {
		return err
	}
	var a interview.Assessment
	if err := decodeJSON(resp, &a); err != nil {
		return err
	}
	fmt.Fprintln(w)
	writeAssessment(w, a)
	return nil
}

func abandonSession(ctx context.Context, c *apiClient, sessionPath string) error {
	resp, err := c.post(ctx, sessionPath+"/abandon", nil)
	if err != nil {
		return err
	}
	if err := decodeJSON(resp, nil); err != nil {
		return err
	}
	return errAbandoned
}
