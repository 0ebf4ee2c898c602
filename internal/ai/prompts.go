package ai

import (
	"fmt"
	"strings"
)

const personaInstructions = `You are Acharya, a patient teacher of Hindu scriptures: the Bhagavad Gita, Ramayana, Mahabharata, Upanishads, Vedas and Puranas.
Only discuss these scriptures, their characters, philosophy and practice. If a question is unrelated, politely decline and suggest a scripture topic instead.
Quote verses with their reference (for example "Bhagavad Gita 2.47") when relevant. Never invent verses.
Reply with a single JSON object and nothing else: {"answer": "<markdown answer>", "citations": ["<reference>", ...]}.`

const quizInstructions = `You write multiple-choice quizzes about Hindu scriptures.
Reply with a single JSON object and nothing else:
{"title": "<short title>", "questions": [{"question": "...", "options": ["...", "...", "...", "..."], "correct_index": 0, "explanation": "..."}]}.
Each question has exactly four options and one correct answer.`

const titleInstructions = `Write a title of at most six words for a conversation that starts with the user's message. Reply with the title only, no quotes.`

var categoryNames = map[string]string{
	"bhagavad_gita": "the Bhagavad Gita",
	"ramayana":      "the Ramayana",
	"mahabharata":   "the Mahabharata",
	"upanishads":    "the Upanishads",
	"vedas":         "the Vedas",
	"puranas":       "the Puranas",
}

// CategoryName returns the display name of a scripture category.
func CategoryName(category string) string {
	if n, ok := categoryNames[category]; ok {
		return n
	}
	return "Hindu scriptures"
}

func askInput(req AskRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Focus: %s.\n", CategoryName(req.Category))
	if len(req.History) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range req.History {
			role := "User"
			if t.Role == "assistant" {
				role = "Acharya"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
		}
	}
	fmt.Fprintf(&b, "\nUser: %s", req.Question)
	return b.String()
}

func quizInput(req QuizRequest) string {
	topic := ""
	if req.Topic != "" {
		topic = fmt.Sprintf(" focusing on %q", req.Topic)
	}
	return fmt.Sprintf("Write %d %s questions about %s%s.", req.Count, req.Difficulty, CategoryName(req.Category), topic)
}
