// Package prompts renders the role prompt sent to each agent session.
//
// Every session type has a markdown template embedded in the binary.
// Templates are parsed once at construction so a bad template fails at
// startup rather than mid-loop.
package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"embed"

	"agentloop/pkg/session"
)

//go:embed *.tpl.md
var promptFS embed.FS

//go:embed review_checklist.md
var reviewChecklist string

// ReviewChecklist returns the static checklist seeded into new project
// directories; review sessions grade implementations against it.
func ReviewChecklist() string {
	return reviewChecklist
}

// PromptData holds the substitution values for prompt templates. Not every
// template uses every field; unused fields render as their zero value and
// the templates guard optional sections with conditionals.
type PromptData struct {
	// ProjectName is the human-readable project name.
	ProjectName string

	// ProjectDir is the project directory the agent works in.
	ProjectDir string

	// FeatureCount is how many features the initializer should plan.
	FeatureCount int

	// MainBranch is the branch feature work merges back into.
	MainBranch string

	// FeatureID, FeatureName and FeatureDescription identify the work item
	// the loop already selected. Empty when the agent self-selects.
	FeatureID          string
	FeatureName        string
	FeatureDescription string

	// ArchitectureInterval and FeaturesCompleted give the architecture
	// reviewer its cadence context.
	ArchitectureInterval int
	FeaturesCompleted    int

	// TechDebtCount is the number of pending DEBT items for a sweep.
	TechDebtCount int
}

// Template names an embedded prompt template file.
type Template string

const (
	// InitializerTemplate bootstraps a new project and its feature ledger.
	InitializerTemplate Template = "initializer.tpl.md"
	// BrownfieldInitializerTemplate builds the ledger for an existing codebase.
	BrownfieldInitializerTemplate Template = "brownfield_initializer.tpl.md"
	// ImplementTemplate implements the next pending feature.
	ImplementTemplate Template = "implement.tpl.md"
	// ReviewTemplate reviews the most recent implementation session.
	ReviewTemplate Template = "review.tpl.md"
	// FixTemplate addresses issues raised by a review.
	FixTemplate Template = "fix.tpl.md"
	// GlobalFixTemplate sweeps accumulated tech debt items.
	GlobalFixTemplate Template = "global_fix.tpl.md"
	// ArchitectureTemplate runs the periodic whole-codebase review.
	ArchitectureTemplate Template = "architecture.tpl.md"
	// BugfixTemplate fixes a reported bug from the ledger.
	BugfixTemplate Template = "bugfix.tpl.md"
)

var allTemplates = []Template{
	InitializerTemplate,
	BrownfieldInitializerTemplate,
	ImplementTemplate,
	ReviewTemplate,
	FixTemplate,
	GlobalFixTemplate,
	ArchitectureTemplate,
	BugfixTemplate,
}

// ForSession maps a session type to its prompt template. FIX sessions carry
// a reason tag: a tech debt sweep uses the global fix prompt even when the
// session type is FIX, matching how sweeps are scheduled from the work
// queue as well as from the review edge.
func ForSession(t session.Type, reason session.FixReason) Template {
	switch t {
	case session.Initializer:
		return InitializerTemplate
	case session.BrownfieldInitializer:
		return BrownfieldInitializerTemplate
	case session.Review:
		return ReviewTemplate
	case session.Fix:
		if reason == session.FixTechDebt {
			return GlobalFixTemplate
		}
		return FixTemplate
	case session.GlobalFix:
		return GlobalFixTemplate
	case session.Architecture:
		return ArchitectureTemplate
	case session.Bugfix:
		return BugfixTemplate
	default:
		return ImplementTemplate
	}
}

// Renderer renders session prompts from the embedded templates.
type Renderer struct {
	templates map[Template]*template.Template
}

// NewRenderer parses all embedded prompt templates.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[Template]*template.Template, len(allTemplates))}

	for _, name := range allTemplates {
		content, err := promptFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse prompt template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the named template with the given data.
func (r *Renderer) Render(name Template, data *PromptData) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt template %s not found", name)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt template %s: %w", name, err)
	}

	return sb.String(), nil
}

// RenderFor renders the prompt for a session type, applying the FIX reason
// dispatch from ForSession.
func (r *Renderer) RenderFor(t session.Type, reason session.FixReason, data *PromptData) (string, error) {
	return r.Render(ForSession(t, reason), data)
}
