package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentloop/pkg/config"
)

// WriteGuide writes the CLAUDE.md rules document the agent reads at the
// start of every session.
func WriteGuide(cfg *config.Config) error {
	path := filepath.Join(cfg.ProjectDir, GuideFileName)
	if err := os.WriteFile(path, []byte(buildGuide(cfg)), 0o644); err != nil {
		return fmt.Errorf("write agent guide: %w", err)
	}
	return nil
}

func buildGuide(cfg *config.Config) string {
	var allowed strings.Builder
	allowed.WriteString("- This project directory - Generated application files\n")
	for _, dir := range cfg.SourceDirs {
		fmt.Fprintf(&allowed, "- `%s` - Source code\n", dir)
	}

	var forbidden strings.Builder
	for _, dir := range cfg.ForbiddenDirs {
		fmt.Fprintf(&forbidden, "- `%s` - Do not modify\n", dir)
	}
	if forbidden.Len() == 0 {
		forbidden.WriteString("- (No specific forbidden directories configured)\n")
	}

	return fmt.Sprintf(guideTemplate, allowed.String(), forbidden.String(), cfg.ArchitectureInterval)
}

const guideTemplate = `# Project Rules for Autonomous Coding Agent

## SCOPE CONSTRAINTS - CRITICAL

You are working on an autonomous coding project. You may ONLY modify files in:

✅ ALLOWED:
%s
❌ DO NOT TOUCH:
%s
## Multi-Agent Workflow

This project uses a multi-agent workflow:

1. **IMPLEMENT** - Create feature branches, implement features, write tests
2. **REVIEW** - Review implementations against the checklist in ` + "`review_checklist.md`" + `
3. **FIX** - Address any issues found during review
4. **ARCHITECTURE** - Periodic codebase-wide refactoring (every %d features)

## Ledger Discipline

- Track all work through ` + "`ledgerctl`" + ` (features, progress, reviews, verification)
- Never edit feature_list.json, progress.json, or reviews.json by hand
- Record every session with ` + "`ledgerctl progress add-session`" + ` before finishing

## Git Workflow

- Create a new branch for each feature: ` + "`feature/<feature-name>`" + `
- Make atomic commits with descriptive messages
- After implementation, leave branch ready for review
- After review passes, merge to main

## Testing Requirements

- Use **Playwright** for browser automation (NOT Puppeteer)
- Test through actual UI, not just API calls
- **DO NOT use curl for testing** - All testing must go through the UI with Playwright
- Take screenshots to verify visual appearance
- Verify both functionality AND visual appearance
- Write both positive AND negative test cases

## Development Standards

- Follow TDD: Write failing test first, then implement
- Follow SOLID principles
- No lazy implementations (no TODOs, no stubs, no mocks in production code)
- All features must work end-to-end through the UI
- Commit progress frequently with descriptive messages

## Quality Bar

- Zero console errors
- Mobile responsive
- Fast and professional UI
- All features work end-to-end through the UI
- Code passes review checklist
`
