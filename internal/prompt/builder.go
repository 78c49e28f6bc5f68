package prompt

import (
	"fmt"
	"strings"

	"github.com/latex-ai/latex-ai-be/pkg/llm"
)

const (
	// SolutionBegin and SolutionEnd delimit the generated content
	SolutionBegin = `\begin{solution}`
	SolutionEnd   = `\end{solution}`

	// MinWords is the word-count floor asked of the model
	MinWords = 1500
)

// Prompt is the pair of messages sent upstream for one question
type Prompt struct {
	System string
	User   string
}

// Messages converts the prompt into chat messages
func (p Prompt) Messages() []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: "system", Content: p.System},
		{Role: "user", Content: p.User},
	}
}

// Builder constructs the fixed LaTeX solution prompt
type Builder struct {
	subject string
}

// NewBuilder creates a new prompt builder. An empty subject defaults to
// Design and Analysis of Algorithms.
func NewBuilder(subject string) *Builder {
	if strings.TrimSpace(subject) == "" {
		subject = "Design and Analysis of Algorithms"
	}
	return &Builder{subject: subject}
}

// Build returns the system instruction and the user content for question.
// seed is optional; when set, it pins the answer style for the session.
func (b *Builder) Build(question string, seed *int) Prompt {
	return Prompt{
		System: b.buildSystemPrompt(seed),
		User:   buildUserContent(question),
	}
}

// buildUserContent wraps the question in the exam macro template
func buildUserContent(question string) string {
	var sb strings.Builder
	sb.Grow(len(question) + 96)

	sb.WriteString(`\question \textbf{\Large `)
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("} \\\\\n")
	sb.WriteString(SolutionBegin)
	sb.WriteString("\n\n")
	sb.WriteString(SolutionEnd)
	sb.WriteString("\n")

	return sb.String()
}

func (b *Builder) buildSystemPrompt(seed *int) string {
	var sb strings.Builder
	sb.Grow(2048)

	sb.WriteString(fmt.Sprintf("Generate the solution content only for the LaTeX %s and %s block. ", SolutionBegin, SolutionEnd))
	sb.WriteString(fmt.Sprintf("Write the solution elaborately in LaTeX format using %s knowledge. ", b.subject))
	sb.WriteString("Use correct terminology and provide detailed, structured answers.\n\n")

	sb.WriteString("Ensure:\n")
	sb.WriteString("- The output can be pasted directly into the given LaTeX template without compile errors.\n")
	sb.WriteString("- Additional packages, if required, are listed at the top of the solution.\n")
	sb.WriteString("- There are no errors such as \"Undefined control sequence\", \"Not in outer par mode\" or \"Missing number, treated as zero\".\n")
	sb.WriteString("- Braces are balanced and environments are properly nested.\n")
	sb.WriteString("- Code is indented and wrapped to avoid underfull or overfull boxes.\n\n")

	sb.WriteString("Packages already available:\n")
	sb.WriteString("- \\usepackage{amssymb, latexsym, amsmath, forest, adjustbox}\n")
	sb.WriteString("- \\usepackage[usenames, dvipsnames, svgnames, table]{xcolor}\n")
	sb.WriteString("- \\usepackage{graphicx}\n\n")

	sb.WriteString("Do not use \\usepackage{algorithm} or \\usepackage{algpseudocode}. Use verbatim for code.\n")
	sb.WriteString("For code related questions give the code, its output and its time complexity, and explain in detail how every part works.\n\n")

	sb.WriteString("Example format for responses:\n")
	sb.WriteString(SolutionBegin)
	sb.WriteString("\n% Full, detailed solution content here\n")
	sb.WriteString(SolutionEnd)
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Return only the content between %s and %s, with nothing outside this block. ", SolutionBegin, SolutionEnd))
	sb.WriteString(fmt.Sprintf("The answer should be at least %d words.\n", MinWords))

	if seed != nil {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("STYLE SEED: %d\n", *seed))
		sb.WriteString(fmt.Sprintf("Every answer generated with style seed %d must share the same section structure, heading style and level of detail.\n", *seed))
	}

	return sb.String()
}
