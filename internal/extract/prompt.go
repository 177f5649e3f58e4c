package extract

import "github.com/kalambet/rehearse/internal/engine"

const systemPrompt = `You read résumés and fill in a candidate profile. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- current_role and current_company come from the most recent position. Use "" when unclear.
- experience_years is the total length of professional work, rounded to one decimal. Use 0 when unclear.
- technical_skills are tools, languages, platforms and methods. Keep the résumé's spelling.
- soft_skills are interpersonal strengths the résumé demonstrates, e.g. "mentoring" or "stakeholder management".
- industries are business domains the candidate worked in.
- Never invent information that is not in the résumé.`

// BuildPrompt returns the chat messages for one résumé.
func BuildPrompt(resume string) []engine.Message {
	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: "[Résumé]\n" + resume},
	}
}
