package app

import (
	"fmt"
	"strings"

	"studyrag/internal/model"
)

// Query modes select the prompt template and generation budget.
const (
	ModeStandard       = "standard"
	ModeAnalytical     = "analytical"
	ModeConversational = "conversational"
)

const (
	standardMaxTokens   = 512
	analyticalMaxTokens = 1024

	// InsufficientContextAnswer is the deterministic reply for queries whose
	// filters leave no usable evidence. It is produced without any call to
	// the generation backend.
	InsufficientContextAnswer = "I don't have enough relevant material in your study documents to answer that question. Try uploading more material or rephrasing the question."
)

const (
	standardSystem = "You are a study assistant. Answer strictly from the provided source excerpts. " +
		"Cite sources using their bracketed numbers, e.g. [1]. If the excerpts do not contain the answer, say so plainly."

	analyticalSystem = "You are a study assistant producing an analytical answer. Ground every claim in the provided " +
		"source excerpts and cite them by bracketed number. Cover definitions, background context, differing " +
		"perspectives where the sources offer them, and current relevance."

	conversationalSystem = "You are a study assistant in an ongoing conversation. Answer the latest question from the " +
		"provided source excerpts, staying consistent with the prior exchange. Cite sources by bracketed number."
)

// buildContextBlock renders survivors in retrieval-rank order as a numbered
// evidence list.
func buildContextBlock(results []model.SearchResult) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] Source: %s\nContent: %s", i+1, sourceLabel(r.Metadata), r.Content)
	}
	return sb.String()
}

func sourceLabel(meta model.EmbeddingMetadata) string {
	if meta.Source != "" {
		return meta.Source
	}
	if meta.DocumentID != 0 {
		return fmt.Sprintf("document-%d", meta.DocumentID)
	}
	return truncate(meta.ChunkID, 24)
}

func buildPrompt(mode, question, contextBlock string, history []model.ConversationTurn, historyTurns int) (prompt, system string, maxTokens int) {
	switch mode {
	case ModeAnalytical:
		prompt = fmt.Sprintf(
			"Source excerpts:\n\n%s\n\nQuestion: %s\n\nProvide a thorough, multi-angle answer grounded in the excerpts above.",
			contextBlock, question)
		return prompt, analyticalSystem, analyticalMaxTokens

	case ModeConversational:
		var sb strings.Builder
		sb.WriteString("Source excerpts:\n\n")
		sb.WriteString(contextBlock)
		if block := formatHistory(history, historyTurns); block != "" {
			sb.WriteString("\n\nConversation so far:\n")
			sb.WriteString(block)
		}
		fmt.Fprintf(&sb, "\n\nQuestion: %s\n\nAnswer:", question)
		return sb.String(), conversationalSystem, standardMaxTokens

	default:
		prompt = fmt.Sprintf("Source excerpts:\n\n%s\n\nQuestion: %s\n\nAnswer:", contextBlock, question)
		return prompt, standardSystem, standardMaxTokens
	}
}

func formatHistory(history []model.ConversationTurn, maxTurns int) string {
	if len(history) == 0 || maxTurns <= 0 {
		return ""
	}
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var sb strings.Builder
	for _, turn := range history {
		label := "Student"
		if turn.Role == "assistant" {
			label = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, turn.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
