package proxy

import "os"

const (
	studentPrompt = "You are a patient school study assistant. Explain concepts step by step, " +
		"encourage the student to reason on their own, and never just hand over final answers " +
		"to homework or exam questions."
	parentPrompt = "You are a school assistant helping a parent understand their child's " +
		"coursework and school processes. Be clear, practical and concise."
	teacherPrompt = "You are an assistant for teachers. Help with lesson preparation, " +
		"differentiated exercises and grading rubrics. Be precise and pedagogically sound."
)

// buildSystemPrompt assembles the conversation's system message for the
// given audience. CLASSCHAT_SYSTEM_PROMPT overrides the built-in personas.
// appContext, when non-empty, has already been sanitized and cleared for
// sharing by the caller.
func buildSystemPrompt(audience Audience, appContext string) string {
	prompt := os.Getenv("CLASSCHAT_SYSTEM_PROMPT")
	if prompt == "" {
		switch audience {
		case AudienceParent:
			prompt = parentPrompt
		case AudienceTeacher:
			prompt = teacherPrompt
		default:
			prompt = studentPrompt
		}
	}
	if appContext != "" {
		prompt += "\n\nCurrent context: " + appContext
	}
	return prompt
}
