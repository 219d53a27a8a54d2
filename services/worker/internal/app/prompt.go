package app

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const systemPrompt = "You are a helpful assistant answering questions about a PDF document. " +
	"Answer using only the document text provided. If the document does not contain the answer, say so plainly."

// buildPrompt returns the system and user prompts for one turn. The document
// text is truncated to maxRunes when positive.
func buildPrompt(filename, documentText, question string, maxRunes int) (string, string) {
	text := documentText
	truncated := false
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		text = string([]rune(text)[:maxRunes])
		truncated = true
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n\n", filename)
	b.WriteString("Document text:\n")
	b.WriteString(text)
	if truncated {
		b.WriteString("\n[document truncated]")
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	return systemPrompt, b.String()
}
