package policy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LoadDir compiles every .rego file under dir. The policy name is the file path relative to dir.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	ctx, span := e.tracer.Start(ctx, "policy_engine.load_dir",
		trace.WithAttributes(attribute.String("policy.dir", dir)))
	defer span.End()

	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("policy directory %s: %w", dir, err)
	}

	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}
		if err := e.loadPolicyFile(ctx, dir, path); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.WithContext(ctx).Info().
		Str("policy_dir", dir).
		Int("count", count).
		Msg("loaded policies")

	return nil
}

func (e *Engine) loadPolicyFile(ctx context.Context, dir, filePath string) error {
	rel, err := validateFilePath(dir, filePath)
	if err != nil {
		return fmt.Errorf("invalid file path %s: %w", filePath, err)
	}

	content, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", filePath, err)
	}

	if err := e.LoadPolicy(ctx, rel, string(content)); err != nil {
		return fmt.Errorf("failed to load policy from %s: %w", filePath, err)
	}
	return nil
}

// validateFilePath keeps policy files inside the policy directory
func validateFilePath(dir, filePath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(filePath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return filepath.ToSlash(rel), nil
}
