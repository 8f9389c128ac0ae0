// Package prompts composes the system prompt for one chat request from
// the epic's context bundle and a persona instruction block.
package prompts

import (
	"fmt"
	"strings"

	"epicdesk/internal/chat"
)

const interviewPrompt = `You are a requirements interviewer helping the user turn a rough epic into a solid specification.
Ask one or two focused questions at a time; never a wall of questions.
Prefer questions that expose hidden constraints: users, edge cases, failure modes, non-goals.
When the user answers, acknowledge briefly and move to the next most valuable unknown.
Do not write the specification yourself; your job is to draw it out of the user.`

const reviewPrompt = `You are an epic reviewer producing a structured completeness and risk review.
Evaluate the specification and task breakdown below and respond with these sections:
1. Completeness — requirements that are vague, missing, or contradictory.
2. Risks — technical and product risks, each with a one-line mitigation.
3. Task coverage — work implied by the spec that no task covers, and tasks
   that don't trace back to the spec.
Be specific; point at actual wording. If context is missing, say what is missing instead of inventing it.`

const chatPrompt = `You are a pragmatic development assistant for this epic.
Answer using the specification and task context below when relevant.
Keep answers concrete and scoped to the epic; if the user asks for something
outside the provided context, say what additional context you would need.`

const specPlaceholder = "No specification has been written for this epic yet."

// instructionBlock returns the persona block for a command type.
// Unknown types fall back to the general assistant persona.
func instructionBlock(cmd chat.CommandType) string {
	switch cmd {
	case chat.CommandInterview:
		return interviewPrompt
	case chat.CommandReview:
		return reviewPrompt
	default:
		return chatPrompt
	}
}

// Assemble builds the system prompt. Section order is fixed and is
// deliberately reproduced exactly on every call: intro, persona block,
// specification, task summary, optional extra context, optional
// learnings. Every field has a non-crashing fallback, so Assemble never
// fails and never returns an empty string.
func Assemble(cmd chat.CommandType, bundle chat.ContextBundle, extra string) string {
	projectName := bundle.ProjectName
	if projectName == "" {
		projectName = "this project"
	}

	spec := strings.TrimSpace(bundle.Spec)
	if spec == "" {
		spec = specPlaceholder
	}

	tasks := strings.TrimSpace(bundle.TaskSummary)
	if tasks == "" {
		tasks = chat.NoTaskData
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are assisting with an epic in the project %q.\n\n", projectName)
	b.WriteString(instructionBlock(cmd))
	b.WriteString("\n\n## Epic specification\n\n")
	b.WriteString(spec)
	b.WriteString("\n\n## Task status\n\n")
	b.WriteString(tasks)

	if extraBlock := strings.TrimSpace(extra); extraBlock != "" {
		b.WriteString("\n\n## Additional context\n\n")
		b.WriteString(extraBlock)
	}

	if learnings := strings.TrimSpace(bundle.Learnings); learnings != "" {
		b.WriteString("\n\n## Learnings from other projects\n\n")
		b.WriteString(learnings)
	}

	return b.String()
}
