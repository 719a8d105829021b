// Package docgen orchestrates the four-pass LLM documentation pipeline
// (§4.5): overview, batched instructions, accounts & types, and security,
// assembled into a single Markdown document.
package docgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soldocs/soldocs/pkg/logx"
	"github.com/soldocs/soldocs/pkg/model"
)

// BatchSize bounds how many instructions are described per LLM call.
const BatchSize = 5

const idlTruncateChars = 15_000

const unknownProgramName = "unknown_program"

// Generator is implemented by pkg/llmclient.Client.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Pipeline runs the four-pass documentation flow against an LLM.
type Pipeline struct {
	llm    Generator
	logger *logx.Logger
}

// New constructs a Pipeline over llm.
func New(llm Generator) *Pipeline {
	return &Pipeline{llm: llm, logger: logx.New("docgen")}
}

// ProgramName derives the display name of idl: idl.name, falling back to
// idl.metadata.name, falling back to "unknown_program".
func ProgramName(idl map[string]any) string {
	if name, ok := idl["name"].(string); ok && name != "" {
		return name
	}
	if meta, ok := idl["metadata"].(map[string]any); ok {
		if name, ok := meta["name"].(string); ok && name != "" {
			return name
		}
	}
	return unknownProgramName
}

// PassStatus records one pass's name and outcome, letting callers report
// per-pass metrics instead of a single collapsed result for the pipeline.
type PassStatus struct {
	Name string
	Err  error
}

// Generate produces a Documentation for programID from idl, refusing if
// the program name cannot be determined (the write-path guard in §4.5).
// The returned []PassStatus always reflects every pass attempted, even when
// Generate itself returns an error: the failing pass is included with its
// error, and passes after it never ran.
func (p *Pipeline) Generate(ctx context.Context, idl map[string]any, programID, idlHash string) (*model.Documentation, []string, []PassStatus, error) {
	name := ProgramName(idl)
	if name == unknownProgramName {
		return nil, nil, nil, fmt.Errorf("docgen: refusing to document %s: program name could not be determined", programID)
	}

	var passes []PassStatus

	overview, err := p.runOverview(ctx, idl, name)
	passes = append(passes, PassStatus{Name: "overview", Err: err})
	if err != nil {
		return nil, nil, passes, fmt.Errorf("docgen: overview pass: %w", err)
	}

	instructions, err := p.runInstructions(ctx, idl, name)
	passes = append(passes, PassStatus{Name: "instructions", Err: err})
	if err != nil {
		return nil, nil, passes, fmt.Errorf("docgen: instructions pass: %w", err)
	}

	accounts, err := p.runAccounts(ctx, idl, name)
	passes = append(passes, PassStatus{Name: "accounts", Err: err})
	if err != nil {
		return nil, nil, passes, fmt.Errorf("docgen: accounts pass: %w", err)
	}

	security, err := p.runSecurity(ctx, idl, name)
	passes = append(passes, PassStatus{Name: "security", Err: err})
	if err != nil {
		return nil, nil, passes, fmt.Errorf("docgen: security pass: %w", err)
	}

	generatedAt := time.Now().UTC()
	fullMarkdown := assembleMarkdown(name, programID, generatedAt, overview, instructions, accounts, security)

	doc := &model.Documentation{
		ProgramID:    programID,
		Name:         name,
		Overview:     overview,
		Instructions: instructions,
		Accounts:     accounts,
		Security:     security,
		FullMarkdown: fullMarkdown,
		GeneratedAt:  generatedAt,
		IDLHash:      idlHash,
	}
	return doc, validateStructure(fullMarkdown), passes, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func idlJSON(idl map[string]any) string {
	b, err := json.Marshal(idl)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func listLen(idl map[string]any, key string) int {
	items, ok := idl[key].([]any)
	if !ok {
		return 0
	}
	return len(items)
}

func (p *Pipeline) runOverview(ctx context.Context, idl map[string]any, name string) (string, error) {
	prompt := fmt.Sprintf(
		"You are documenting the Solana program %q.\n"+
			"It has %d instructions, %d account types, %d custom types, %d events, and %d error codes.\n"+
			"Write a clear overview of what this program does, in Markdown, with a fenced code example.\n\n"+
			"IDL:\n%s",
		name,
		listLen(idl, "instructions"), listLen(idl, "accounts"), listLen(idl, "types"),
		listLen(idl, "events"), listLen(idl, "errors"),
		truncate(idlJSON(idl), idlTruncateChars),
	)
	return p.llm.Generate(ctx, prompt, 0)
}

func (p *Pipeline) runInstructions(ctx context.Context, idl map[string]any, name string) (string, error) {
	instructions, _ := idl["instructions"].([]any)
	if len(instructions) == 0 {
		return "No instructions", nil
	}

	var sections []string
	for start := 0; start < len(instructions); start += BatchSize {
		end := start + BatchSize
		if end > len(instructions) {
			end = len(instructions)
		}
		batch := instructions[start:end]
		batchJSON, err := json.Marshal(batch)
		if err != nil {
			return "", fmt.Errorf("marshal instruction batch: %w", err)
		}
		prompt := fmt.Sprintf(
			"You are documenting instructions of the Solana program %q.\n"+
				"For each instruction below, provide: a description, an account table, "+
				"an argument table, and a usage example in a fenced code block.\n\n"+
				"Instructions:\n%s",
			name, string(batchJSON),
		)
		out, err := p.llm.Generate(ctx, prompt, 0)
		if err != nil {
			return "", err
		}
		sections = append(sections, out)
	}
	return strings.Join(sections, "\n\n---\n\n"), nil
}

func (p *Pipeline) runAccounts(ctx context.Context, idl map[string]any, name string) (string, error) {
	hasAny := listLen(idl, "accounts") > 0 || listLen(idl, "types") > 0 ||
		listLen(idl, "events") > 0 || listLen(idl, "errors") > 0
	if !hasAny {
		return "No account types", nil
	}

	payload := map[string]any{
		"accounts": idl["accounts"],
		"types":    idl["types"],
	}
	if listLen(idl, "events") > 0 {
		payload["events"] = idl["events"]
	}
	if listLen(idl, "errors") > 0 {
		payload["errors"] = idl["errors"]
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal accounts payload: %w", err)
	}

	prompt := fmt.Sprintf(
		"You are documenting the account, type, event, and error definitions of the "+
			"Solana program %q.\n\nDefinitions:\n%s",
		name, string(body),
	)
	return p.llm.Generate(ctx, prompt, 0)
}

func (p *Pipeline) runSecurity(ctx context.Context, idl map[string]any, name string) (string, error) {
	prompt := fmt.Sprintf(
		"You are performing a static IDL analysis only security review of the Solana "+
			"program %q. List potential risks visible from the interface shape alone "+
			"(missing signer checks, unchecked account ownership, arbitrary CPI, etc). "+
			"This is static IDL analysis only and not a substitute for an audit.\n\n"+
			"IDL:\n%s",
		name, truncate(idlJSON(idl), idlTruncateChars),
	)
	return p.llm.Generate(ctx, prompt, 0)
}

func assembleMarkdown(name, programID string, generatedAt time.Time, overview, instructions, accounts, security string) string {
	header := fmt.Sprintf(
		"# %s\n\n`%s`\n\nGenerated at: %s\n\nGenerated by SolDocs\n",
		name, programID, generatedAt.Format(time.RFC3339),
	)
	footer := "Documentation generated autonomously by SolDocs\n"

	sections := []string{header, overview, instructions, accounts, security, footer}
	return strings.Join(sections, "\n---\n")
}

// validateStructure runs the §4.5 structural checks, which never block
// persistence: they only surface as warnings.
func validateStructure(fullMarkdown string) []string {
	var warnings []string
	if len(fullMarkdown) < 500 {
		warnings = append(warnings, "generated documentation is shorter than 500 characters")
	}
	if !strings.Contains(fullMarkdown, "```") {
		warnings = append(warnings, "generated documentation contains no fenced code block")
	}
	return warnings
}
