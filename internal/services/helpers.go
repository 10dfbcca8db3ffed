package services

import (
	"context"
	"strings"

	"github.com/kbvault/kbvault/pkg/pathsafe"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// normalisePath trims whitespace and stray separators from a caller-supplied logical path.
func normalisePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), pathsafe.Separator)
}
