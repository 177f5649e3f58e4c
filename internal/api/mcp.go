package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/rehearse/internal/interview"
	"github.com/kalambet/rehearse/internal/orchestrator"
	"github.com/kalambet/rehearse/internal/profile"
)

// NewMCPServer creates an MCP server exposing the interview tools.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"rehearse",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("rehearse runs personalized mock interviews. Start an interview, relay each candidate answer with submit_answer, then complete_interview for the assessment."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_interview",
			mcp.WithDescription("Start a mock interview and return the opening question."),
			mcp.WithString("candidate_id", mcp.Description("Candidate identifier"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Interview type"), mcp.Required(),
				mcp.Enum(typeNames()...)),
			mcp.WithString("difficulty", mcp.Description("easy, medium or hard; defaults to the profile preference")),
			mcp.WithString("role_context", mcp.Description("Role being interviewed for")),
			mcp.WithString("company_context", mcp.Description("Company being interviewed with")),
			mcp.WithString("custom_instructions", mcp.Description("Extra guidance for the interviewer")),
			mcp.WithNumber("max_questions", mcp.Description("Questions before closing (default from policy)")),
		),
		mcpStartInterview(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_answer",
			mcp.WithDescription("Record the candidate's answer and return the next question or closing remark."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("The candidate's answer text"), mcp.Required()),
			mcp.WithString("audio_ref", mcp.Description("Recording reference for speech analysis")),
			mcp.WithNumber("audio_duration_seconds", mcp.Description("Length of the recording")),
		),
		mcpSubmitAnswer(deps),
	)

	s.AddTool(
		mcp.NewTool("resume_interview",
			mcp.WithDescription("Retry generating the next question after a failed turn."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
		),
		mcpSessionCall(func(ctx context.Context, id string) (any, error) { return deps.Interviews.Resume(ctx, id) }),
	)

	s.AddTool(
		mcp.NewTool("complete_interview",
			mcp.WithDescription("End the interview and return its assessment."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
		),
		mcpSessionCall(func(ctx context.Context, id string) (any, error) { return deps.Interviews.Complete(ctx, id) }),
	)

	s.AddTool(
		mcp.NewTool("assess_interview",
			mcp.WithDescription("Recompute the assessment of a session without changing its status."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
		),
		mcpSessionCall(func(ctx context.Context, id string) (any, error) { return deps.Interviews.Assess(ctx, id) }),
	)

	s.AddTool(
		mcp.NewTool("abandon_interview",
			mcp.WithDescription("Stop an interview without assessing it."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
		),
		mcpSessionCall(func(ctx context.Context, id string) (any, error) { return deps.Interviews.Abandon(ctx, id) }),
	)

	s.AddTool(
		mcp.NewTool("get_session",
			mcp.WithDescription("Return a session with its full transcript."),
			mcp.WithString("session_id", mcp.Description("Session identifier"), mcp.Required()),
		),
		mcpSessionCall(func(ctx context.Context, id string) (any, error) { return deps.Interviews.GetSession(ctx, id) }),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List a candidate's sessions, newest first."),
			mcp.WithString("candidate_id", mcp.Description("Candidate identifier"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 20)")),
			mcp.WithNumber("offset", mcp.Description("Sessions to skip")),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("recall_context",
			mcp.WithDescription("Search the candidate's résumé, profile and past interviews."),
			mcp.WithString("candidate_id", mcp.Description("Candidate identifier"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecallContext(deps),
	)

	s.AddTool(
		mcp.NewTool("set_profile_field",
			mcp.WithDescription("Update one field of a candidate profile. List fields take comma-separated values."),
			mcp.WithString("candidate_id", mcp.Description("Candidate identifier"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Profile field key"), mcp.Required(), mcp.Enum(profile.ValidKeys()...)),
			mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
		),
		mcpSetProfileField(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"rehearse://interview-types",
			"Interview Types",
			mcp.WithResourceDescription("Supported interview types and difficulties"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTypes,
	)

	return s
}

func typeNames() []string {
	out := make([]string, len(interview.Types))
	for i, t := range interview.Types {
		out[i] = string(t)
	}
	return out
}

func mcpStartInterview(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		candidateID, err := req.RequireString("candidate_id")
		if err != nil {
			return mcpError("candidate_id is required"), nil
		}
		typ, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}

		cfg := interview.SessionConfig{
			Type:               interview.Type(typ),
			Difficulty:         interview.Difficulty(req.GetString("difficulty", "")),
			RoleContext:        req.GetString("role_context", ""),
			CompanyContext:     req.GetString("company_context", ""),
			CustomInstructions: req.GetString("custom_instructions", ""),
			MaxQuestions:       req.GetInt("max_questions", 0),
		}
		res, err := deps.Interviews.Start(ctx, candidateID, cfg)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpSubmitAnswer(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		answer, err := req.RequireString("answer")
		if err != nil {
			return mcpError("answer is required"), nil
		}

		res, err := deps.Interviews.SubmitAnswer(ctx, sessionID, orchestrator.AnswerInput{
			Text:                 answer,
			AudioRef:             req.GetString("audio_ref", ""),
			AudioDurationSeconds: req.GetFloat("audio_duration_seconds", 0),
		})
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(res), nil
	}
}

// mcpSessionCall adapts a call that needs only the session id.
func mcpSessionCall(call func(ctx context.Context, sessionID string) (any, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		v, err := call(ctx, sessionID)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(v), nil
	}
}

func mcpListSessions(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		candidateID, err := req.RequireString("candidate_id")
		if err != nil {
			return mcpError("candidate_id is required"), nil
		}
		list, err := deps.Interviews.ListSessions(ctx, candidateID, orchestrator.Page{
			Limit:  req.GetInt("limit", 0),
			Offset: req.GetInt("offset", 0),
		})
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpJSON(list), nil
	}
}

func mcpRecallContext(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Context == nil {
			return mcpError("context search is not configured"), nil
		}
		candidateID, err := req.RequireString("candidate_id")
		if err != nil {
			return mcpError("candidate_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", defaultContextLimit)
		if limit <= 0 {
			limit = defaultContextLimit
		}
		if limit > maxContextLimit {
			limit = maxContextLimit
		}

		snippets, err := deps.Context.Retrieve(ctx, candidateID, query, limit)
		if err != nil {
			return mcpFailure(err), nil
		}
		if len(snippets) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(snippets), nil
	}
}

func mcpSetProfileField(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		candidateID, err := req.RequireString("candidate_id")
		if err != nil {
			return mcpError("candidate_id is required"), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Profiles.SetField(ctx, candidateID, key, value); err != nil {
			return mcpFailure(err), nil
		}
		return mcpText(fmt.Sprintf("Set %s for %s", key, candidateID)), nil
	}
}

func mcpResourceTypes(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	type typeInfo struct {
		Type  interview.Type `json:"type"`
		Label string         `json:"label"`
	}
	types := make([]typeInfo, len(interview.Types))
	for i, t := range interview.Types {
		types[i] = typeInfo{Type: t, Label: t.Label()}
	}
	b, err := json.Marshal(map[string]any{
		"types":        types,
		"difficulties": []interview.Difficulty{interview.DifficultyEasy, interview.DifficultyMedium, interview.DifficultyHard},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal interview types: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

// mcpFailure reports err prefixed with its kind so clients can tell a bad
// argument from a dependency outage.
func mcpFailure(err error) *mcp.CallToolResult {
	kind := interview.KindOf(err)
	if kind == interview.KindUnknown {
		return mcpError("internal error")
	}
	return mcpError(fmt.Sprintf("%s: %s", kind, strings.TrimSpace(err.Error())))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
