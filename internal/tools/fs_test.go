package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadToolAllowsSingleLineUnderReadCap(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("x", 5*1024)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wide.txt"), []byte(content), 0o644))

	tool := &ReadTool{Workspace: dir}
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "wide.txt"})
	require.False(t, res.IsError)
}

func TestReadToolRefusesSingleLineOverReadCap(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("x", readMaxBytes+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wide.txt"), []byte(content), 0o644))

	tool := &ReadTool{Workspace: dir}
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "wide.txt"})
	require.True(t, res.IsError)
	require.Contains(t, res.ForLLM, "too large to read directly")
}
