package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/kotoba/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// maxAnswerRunes caps how much of a submitted answer reaches the model.
const maxAnswerRunes = 500

// DefaultLang is used when no template exists for the requested language.
const DefaultLang = "en"

var (
	loadOnce         sync.Once
	loadErr          error
	explainTemplates map[string]*template.Template
)

var funcs = template.FuncMap{"join": strings.Join}

// ExplainData holds template data for explanation prompts.
type ExplainData struct {
	Prompt         string
	MultipleChoice bool
	Options        []string
	Expected       string
	Answer         string
	Correct        bool
}

// Load parses the embedded explain_<lang>.txt templates once.
func Load() error {
	loadOnce.Do(func() {
		explainTemplates, loadErr = parseTemplates(templateFS)
	})
	return loadErr
}

func parseTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	files, err := fs.Glob(fsys, "templates/explain_*.txt")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no explain templates found")
	}
	out := make(map[string]*template.Template, len(files))
	for _, f := range files {
		content, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", f, err)
		}
		tmpl, err := template.New("explain").Funcs(funcs).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", f, err)
		}
		lang := strings.TrimSuffix(strings.TrimPrefix(f, "templates/explain_"), ".txt")
		out[lang] = tmpl
	}
	return out, nil
}

// Languages lists the languages with an explain template.
func Languages() []string {
	if err := Load(); err != nil {
		return nil
	}
	langs := make([]string, 0, len(explainTemplates))
	for l := range explainTemplates {
		langs = append(langs, l)
	}
	return langs
}

// BuildExplainPrompt renders the explanation prompt for one reviewed answer.
// Unknown languages fall back to DefaultLang.
func BuildExplainPrompt(lang string, q model.Question, answer string, correct bool) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := explainTemplates[baseLang(lang)]
	if !ok {
		tmpl, ok = explainTemplates[DefaultLang]
	}
	if !ok {
		return "", errors.New("no explain template for language: " + lang)
	}

	data := ExplainData{
		Prompt:         q.Prompt,
		MultipleChoice: q.Kind == model.KindMultipleChoice,
		Options:        q.Options,
		Expected:       q.Answer,
		Answer:         sanitizeAnswer(answer),
		Correct:        correct,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// baseLang strips region and script subtags: "id-ID" becomes "id".
func baseLang(lang string) string {
	lang = strings.ToLower(lang)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
