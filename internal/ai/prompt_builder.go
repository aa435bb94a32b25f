package ai

import "strings"

// DocumentExcerptLimit is how much of a document goes into the analysis prompt.
const DocumentExcerptLimit = 2000

// Turn is one earlier message of a conversation.
type Turn struct {
	Role    string
	Content string
}

// BuildChatPrompt: история диалога + новый вопрос
func BuildChatPrompt(history []Turn, question string) Request {
	var b strings.Builder

	if len(history) > 0 {
		b.WriteString("conversation:\n")
		for _, t := range history {
			b.WriteString(t.Role)
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(t.Content))
			b.WriteString("\n")
		}
	}

	b.WriteString("question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")

	return Request{System: assistantSystemPrompt, Prompt: b.String()}
}

func BuildDocumentPrompt(fileName string, standards []string, content string) Request {
	var b strings.Builder

	b.WriteString("standards: ")
	b.WriteString(strings.Join(standards, ", "))
	b.WriteString("\n")

	b.WriteString("file_name: ")
	b.WriteString(fileName)
	b.WriteString("\n")

	if r := []rune(content); len(r) > DocumentExcerptLimit {
		content = string(r[:DocumentExcerptLimit])
	}
	b.WriteString("document_excerpt:\n")
	b.WriteString(content)
	b.WriteString("\n")

	return Request{System: documentAnalysisSystemPrompt, Prompt: b.String(), JSON: true}
}

func BuildCitationPrompt(text string) Request {
	var b strings.Builder

	b.WriteString("document_text:\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n")

	return Request{System: citationSystemPrompt, Prompt: b.String(), JSON: true}
}
