package mcp

// ToolDefinitions returns the MCP tool definitions for the persona server.
func ToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name: "memory_ingest",
			Description: "Store raw conversation text or notes into the user's memory graph. " +
				"The server extracts episodes, traits, and actionable notes and links them automatically. " +
				"Call once per bounded interaction, not per message.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"userId":    {Type: "string", Description: "User whose memory to write"},
					"text":      {Type: "string", Description: "Raw text of the interaction"},
					"sessionId": {Type: "string", Description: "Stable identifier for the interaction"},
				},
				Required: []string{"userId", "text"},
			},
		},
		{
			Name: "memory_context",
			Description: "Answer a natural-language question about the user from their memory graph. " +
				"Returns a structured context block ready to paste into a prompt, shaped by the " +
				"question (profile, timeline, tasks, or entity neighborhood).",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"userId": {Type: "string", Description: "User whose memory to query"},
					"query":  {Type: "string", Description: "Natural language question, e.g. 'What did I work on yesterday?'"},
					"topK": {Type: "number", Description: "Vector search breadth (default 10)",
						Default: 10},
					"timezone": {Type: "string", Description: "IANA timezone for resolving phrases like 'yesterday'"},
				},
				Required: []string{"userId", "query"},
			},
		},
		{
			Name: "memory_notes",
			Description: "List the user's notes (goals, tasks, facts, contacts, reminders, lists). " +
				"Defaults to active notes only.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"userId": {Type: "string", Description: "User whose notes to list"},
					"status": {Type: "string", Description: "Filter by lifecycle state",
						Enum: []string{"active", "completed", "dismissed", "all"}},
				},
				Required: []string{"userId"},
			},
		},
		{
			Name: "memory_note_status",
			Description: "Mark a note completed or dismissed, or reactivate it. " +
				"Notes are retired by status change, never deleted.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"noteId": {Type: "string", Description: "ID of the note to update"},
					"status": {Type: "string", Description: "New lifecycle state",
						Enum: []string{"active", "completed", "dismissed"}},
				},
				Required: []string{"noteId", "status"},
			},
		},
		{
			Name: "memory_chain",
			Description: "Get the user's full episode timeline in temporal order, oldest first. " +
				"Useful for reviewing the narrative history of past sessions.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"userId": {Type: "string", Description: "User whose episode chain to read"},
				},
				Required: []string{"userId"},
			},
		},
	}
}
