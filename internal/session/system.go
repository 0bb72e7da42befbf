package session

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/opencode-ai/streamd/internal/logging"
	"github.com/opencode-ai/streamd/internal/sysstatus"
	"github.com/opencode-ai/streamd/internal/vcs"
	"github.com/opencode-ai/streamd/pkg/types"
)

// SystemPrompt builds the system prompt for a session.
type SystemPrompt struct {
	fs           afero.Fs
	session      *types.Session
	instructions []string
}

// NewSystemPrompt creates a system prompt builder. Instruction files are
// read from fsys; relative paths resolve against the session directory.
func NewSystemPrompt(fsys afero.Fs, session *types.Session, instructions []string) *SystemPrompt {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &SystemPrompt{fs: fsys, session: session, instructions: instructions}
}

// Build constructs the complete system prompt.
func (s *SystemPrompt) Build() string {
	var parts []string

	// 1. Provider-specific header
	if header := s.providerHeader(); header != "" {
		parts = append(parts, header)
	}

	// 2. Environment context
	parts = append(parts, s.environmentContext())

	// 3. Project rules and configured instructions
	if rules := s.customRules(); rules != "" {
		parts = append(parts, rules)
	}

	// 4. Tool instructions
	parts = append(parts, toolInstructions)

	return strings.Join(parts, "\n\n")
}

func (s *SystemPrompt) providerHeader() string {
	switch s.session.ProviderID {
	case "anthropic":
		return `You are Claude, an AI assistant made by Anthropic, working inside streamd.

You have tools that read, write and execute commands on the user's computer. Use them responsibly.`
	default:
		return `You are a helpful AI assistant working inside streamd, with tools for reading, writing and executing commands.

Use tools responsibly and follow user instructions carefully.`
	}
}

func (s *SystemPrompt) environmentContext() string {
	var env strings.Builder
	env.WriteString("# Environment Information\n\n")
	fmt.Fprintf(&env, "Working Directory: %s\n", s.session.Directory)
	fmt.Fprintf(&env, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if projectType := s.detectProjectType(); projectType != "" {
		fmt.Fprintf(&env, "Project Type: %s\n", projectType)
	}
	if branch := vcs.Branch(s.session.Directory); branch != "" {
		fmt.Fprintf(&env, "Git Branch: %s\n", branch)
	}
	env.WriteString("\nEach user message starts with the host system status and the task list as they were when it was sent. Tool results end with the current system status.")
	return env.String()
}

// customRules loads AGENTS.md or CLAUDE.md from the session directory plus
// every configured instruction file.
func (s *SystemPrompt) customRules() string {
	var sections []string
	for _, name := range []string{"AGENTS.md", "CLAUDE.md"} {
		content, err := afero.ReadFile(s.fs, filepath.Join(s.session.Directory, name))
		if err == nil && len(content) > 0 {
			sections = append(sections, strings.TrimSpace(string(content)))
			break
		}
	}

	for _, path := range s.instructions {
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.session.Directory, path)
		}
		content, err := afero.ReadFile(s.fs, path)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Skipping instruction file")
			continue
		}
		if len(content) > 0 {
			sections = append(sections, strings.TrimSpace(string(content)))
		}
	}

	if len(sections) == 0 {
		return ""
	}
	return "# Custom Rules\n\n" + strings.Join(sections, "\n\n")
}

var projectIndicators = map[string][]string{
	"Node.js": {"package.json"},
	"Python":  {"pyproject.toml", "setup.py", "requirements.txt"},
	"Go":      {"go.mod"},
	"Rust":    {"Cargo.toml"},
	"Java":    {"pom.xml", "build.gradle"},
	"Ruby":    {"Gemfile"},
	"C#":      {"*.csproj", "*.sln"},
}

func (s *SystemPrompt) detectProjectType() string {
	if s.session.Directory == "" {
		return ""
	}

	// sorted for a stable answer when several indicators match
	names := make([]string, 0, len(projectIndicators))
	for name := range projectIndicators {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, pattern := range projectIndicators[name] {
			matches, _ := afero.Glob(s.fs, filepath.Join(s.session.Directory, pattern))
			if len(matches) > 0 {
				return name
			}
		}
	}
	return ""
}

const toolInstructions = `# Tool Usage Guidelines

1. **File Operations**
   - Use the read tool before editing files
   - Use edit for surgical changes, write for new files
   - Always provide absolute paths

2. **Bash Commands**
   - Prefer built-in tools over bash when possible
   - Include a description for every bash command
   - Use run_in_background for long-running processes and poll them with bash_output

3. **Search**
   - Use glob for file discovery
   - Use grep for content search
   - Use batch to run independent reads and searches together

4. **Tasks**
   - Track multi-step work with todowrite; keep exactly one task in_progress`

// ToolOutputHook post-processes a tool result before the model sees it.
type ToolOutputHook func(ctx context.Context, toolName, output string) string

// StatusHook returns a hook that appends the current system status, as
// captured by sampler, to every tool result.
func StatusHook(sampler sysstatus.Sampler) ToolOutputHook {
	return func(ctx context.Context, toolName, output string) string {
		status, err := sampler.Capture(ctx)
		if err != nil {
			logging.Debug().Err(err).Str("tool", toolName).Msg("System status unavailable")
			return output
		}
		return output + "\n\n" + sysstatus.Render(status)
	}
}
