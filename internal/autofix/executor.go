// Package autofix applies declarative fix instructions to a working tree.
package autofix

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/spec-kit/support-dispatch/internal/domain"
	"github.com/spec-kit/support-dispatch/pkg/util"
)

// RemoteRunner executes a command on a named remote target.
type RemoteRunner interface {
	Run(ctx context.Context, target, command string) (string, error)
}

// MigrationRunner applies a SQL script.
type MigrationRunner interface {
	RunSQL(ctx context.Context, name, script string) error
}

// TemplateFunc renders file content for a create_file instruction.
type TemplateFunc func(in domain.AutoFixInstruction) (string, error)

// RunContext identifies the ticket a run belongs to.
type RunContext struct {
	TicketID string
}

// Executor applies instructions in order and stops at the first failure.
type Executor struct {
	remote     RemoteRunner
	migrations MigrationRunner
	templates  map[string]TemplateFunc
	envFile    string
	logger     *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRemoteRunner enables remote_command instructions.
func WithRemoteRunner(r RemoteRunner) Option {
	return func(e *Executor) { e.remote = r }
}

// WithMigrationRunner enables run_migration instructions.
func WithMigrationRunner(r MigrationRunner) Option {
	return func(e *Executor) { e.migrations = r }
}

// WithTemplate registers a named content template.
func WithTemplate(name string, fn TemplateFunc) Option {
	return func(e *Executor) { e.templates[name] = fn }
}

// WithEnvFile sets the env file set_env writes to, relative to the root.
func WithEnvFile(name string) Option {
	return func(e *Executor) { e.envFile = name }
}

// New creates an executor.
func New(logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		templates: map[string]TemplateFunc{"api_route": apiRouteTemplate},
		envFile:   ".env",
		logger:    logger.Named("autofix"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies instructions under rootDir. The returned error is
// reserved for cancellation; instruction failures are reported in the
// result.
func (e *Executor) Execute(ctx context.Context, rootDir string, instructions []domain.AutoFixInstruction, rc RunContext) (domain.FixResult, error) {
	var (
		result   domain.FixResult
		modified = make(map[string]bool)
	)
	log := e.logger.With(zap.String("ticket_id", rc.TicketID))

	for i, in := range instructions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		changed, warning, err := e.apply(ctx, rootDir, in)
		if err != nil {
			log.Warn("instruction failed",
				zap.Int("index", i),
				zap.String("operation", string(in.Operation)),
				zap.String("target", in.Target),
				zap.Error(err))
			result.Success = false
			result.Error = fmt.Sprintf("%s %s: %v", in.Operation, in.Target, err)
			return result, nil
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		if changed != "" && !modified[changed] {
			modified[changed] = true
			result.ModifiedFiles = append(result.ModifiedFiles, changed)
		}
	}

	result.Success = true
	result.Message = fmt.Sprintf("%d Anweisung(en) angewendet", len(instructions))
	log.Info("instructions applied",
		zap.Int("count", len(instructions)),
		zap.Strings("modified_files", result.ModifiedFiles),
		zap.Int("warnings", len(result.Warnings)))
	return result, nil
}

func (e *Executor) apply(ctx context.Context, rootDir string, in domain.AutoFixInstruction) (changed, warning string, err error) {
	switch in.Operation {
	case domain.OpCreateFile:
		return e.createFile(rootDir, in)
	case domain.OpModifyCode:
		return rewrite(rootDir, in, in.Content)
	case domain.OpRemoveCode:
		return rewrite(rootDir, in, "")
	case domain.OpSetEnv:
		return e.setEnv(rootDir, in)
	case domain.OpRunMigration:
		return e.runMigration(ctx, rootDir, in)
	case domain.OpRemoteCommand:
		return e.runRemote(ctx, in)
	}
	return "", "", fmt.Errorf("unknown operation %q", in.Operation)
}

func (e *Executor) createFile(rootDir string, in domain.AutoFixInstruction) (string, string, error) {
	path, err := util.ResolveUnder(rootDir, in.Target)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Sprintf("%s already exists; left unchanged", in.Target), nil
	}
	content := in.Content
	if content == "" && in.Template != "" {
		tmpl, ok := e.templates[in.Template]
		if !ok {
			return "", "", fmt.Errorf("no template %q registered", in.Template)
		}
		if content, err = tmpl(in); err != nil {
			return "", "", fmt.Errorf("render template %q: %w", in.Template, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", err
	}
	return in.Target, "", nil
}

func rewrite(rootDir string, in domain.AutoFixInstruction, replacement string) (string, string, error) {
	if in.Matcher == nil || in.Matcher.Value == "" {
		return "", "", errors.New("matcher required")
	}
	path, err := util.ResolveUnder(rootDir, in.Target)
	if err != nil {
		return "", "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	updated, n, err := Replace(string(raw), *in.Matcher, replacement)
	if err != nil {
		return "", "", err
	}
	if n == 0 {
		return "", fmt.Sprintf("%s: no match for %s %q", in.Target, in.Matcher.Kind, in.Matcher.Value), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return "", "", err
	}
	return in.Target, "", nil
}

// Replace applies a matcher to content and returns the new content and
// the number of replaced regions. For line_contains whole lines are
// replaced, and an empty replacement drops them.
func Replace(content string, m domain.InstructionMatcher, replacement string) (string, int, error) {
	switch m.Kind {
	case domain.MatchLiteral:
		n := strings.Count(content, m.Value)
		return strings.ReplaceAll(content, m.Value, replacement), n, nil
	case domain.MatchRegex:
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return "", 0, fmt.Errorf("compile matcher: %w", err)
		}
		n := len(re.FindAllStringIndex(content, -1))
		return re.ReplaceAllString(content, replacement), n, nil
	case domain.MatchLineContains:
		lines := strings.Split(content, "\n")
		out := make([]string, 0, len(lines))
		n := 0
		for _, line := range lines {
			if !strings.Contains(line, m.Value) {
				out = append(out, line)
				continue
			}
			n++
			if replacement != "" {
				out = append(out, replacement)
			}
		}
		return strings.Join(out, "\n"), n, nil
	}
	return "", 0, fmt.Errorf("unknown matcher kind %q", m.Kind)
}

func (e *Executor) setEnv(rootDir string, in domain.AutoFixInstruction) (string, string, error) {
	if in.Content == "" {
		return "", "", fmt.Errorf("no value for %s", in.Target)
	}
	path, err := util.ResolveUnder(rootDir, e.envFile)
	if err != nil {
		return "", "", err
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		values = map[string]string{}
	} else if err != nil {
		return "", "", fmt.Errorf("read %s: %w", e.envFile, err)
	}
	if values[in.Target] == in.Content {
		return "", fmt.Sprintf("%s already set", in.Target), nil
	}
	values[in.Target] = in.Content
	if err := godotenv.Write(values, path); err != nil {
		return "", "", fmt.Errorf("write %s: %w", e.envFile, err)
	}
	return e.envFile, "", nil
}

func (e *Executor) runMigration(ctx context.Context, rootDir string, in domain.AutoFixInstruction) (string, string, error) {
	if e.migrations == nil {
		return "", "", errors.New("migration runner not configured")
	}
	script := in.Content
	if script == "" {
		path, err := util.ResolveUnder(rootDir, in.Target)
		if err != nil {
			return "", "", err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", "", fmt.Errorf("load migration: %w", err)
		}
		script = string(raw)
	}
	if err := e.migrations.RunSQL(ctx, in.Target, script); err != nil {
		return "", "", err
	}
	return "", "", nil
}

func (e *Executor) runRemote(ctx context.Context, in domain.AutoFixInstruction) (string, string, error) {
	if e.remote == nil {
		return "", "", errors.New("remote execution not configured")
	}
	command := in.Content
	if command == "" {
		return "", "", errors.New("no command")
	}
	out, err := e.remote.Run(ctx, in.Target, command)
	if err != nil {
		return "", "", err
	}
	e.logger.Debug("remote command finished", zap.String("target", in.Target), zap.String("output", out))
	return "", "", nil
}

func apiRouteTemplate(in domain.AutoFixInstruction) (string, error) {
	return fmt.Sprintf("// %s\nexport async function GET() {\n  return Response.json({ status: \"ok\" })\n}\n", in.Description), nil
}
