package generation

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = `You are a helpful assistant for this website. Your role is to answer questions based on the provided context from the website's content.

Guidelines:
- Answer questions accurately based on the provided context
- If the context doesn't contain enough information, say so
- Cite specific pages or sources when relevant
- Be concise but thorough
- Use a friendly and professional tone`

// DefaultUserTemplate is the user prompt. {context} and {question} are substituted.
const DefaultUserTemplate = `Context from website:

{context}

Question: {question}

Please provide a helpful answer based on the context above.`

const untitled = "Untitled"

// PromptTemplate renders the system and user prompts for a question.
type PromptTemplate struct {
	SystemPrompt string
	UserTemplate string
}

// NewPromptTemplate returns a template; empty arguments fall back to the defaults.
func NewPromptTemplate(systemPrompt, userTemplate string) PromptTemplate {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if strings.TrimSpace(userTemplate) == "" {
		userTemplate = DefaultUserTemplate
	}
	return PromptTemplate{SystemPrompt: systemPrompt, UserTemplate: userTemplate}
}

// FormatContext lists docs as numbered sources separated by blank lines.
func FormatContext(docs []models.SearchResult) string {
	var b strings.Builder
	for i := range docs {
		doc := &docs[i]
		title := doc.MetaString(models.MetaTitle)
		if title == "" {
			title = untitled
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[Source %d: %s]\n", i+1, title)
		if url := doc.MetaString(models.MetaURL); url != "" {
			fmt.Fprintf(&b, "URL: %s\n", url)
		}
		fmt.Fprintf(&b, "Content: %s\n", doc.Text)
	}
	return b.String()
}

// Build returns the system prompt and the rendered user prompt.
func (p PromptTemplate) Build(question string, docs []models.SearchResult) (system, user string) {
	r := strings.NewReplacer("{context}", FormatContext(docs), "{question}", question)
	return p.SystemPrompt, r.Replace(p.UserTemplate)
}
