package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemkit/kvservice"
	"github.com/joshuapare/pmemkit/pool"
	"github.com/joshuapare/pmemkit/replica"
)

// resetFlags restores the package flag variables between tests.
func resetFlags() {
	quiet = false
	verbose = false
	jsonOut = false
	classes = "balanced"
	createKind = "replica"
	createHeapSize = 4 << 20
	createShards = 0
	verifyNoReach = false
	backupCodec = "zstd"
	restoreForce = false
}

// captureOutput redirects the command output while running fn.
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	defer func() { stdout = orig }()
	err := fn()
	return buf.String(), err
}

// newPoolFile creates a pool of the given kind in a temp dir.
func newPoolFile(t *testing.T, kind string) string {
	t.Helper()
	resetFlags()
	path := filepath.Join(t.TempDir(), kind+".pmk")
	createKind = kind
	_, err := captureOutput(t, func() error { return runCreate([]string{path}) })
	require.NoError(t, err)
	return path
}

// seedService applies a few puts to a kvservice pool.
func seedService(t *testing.T, path string) {
	t.Helper()
	p, err := pool.Open(path, pool.Options{})
	require.NoError(t, err)
	defer p.Close()
	svc, err := kvservice.Open(p, p.Root(), kvservice.Options{})
	require.NoError(t, err)
	for i, kv := range [][2]string{{"alpha", "1"}, {"beta", "22"}, {"alpha", "333"}} {
		_, err := svc.Execute(int64(i), kvservice.Put([]byte(kv[0]), []byte(kv[1])))
		require.NoError(t, err)
	}
}

// seedReplica records some decided instances and replies.
func seedReplica(t *testing.T, path string) {
	t.Helper()
	p, err := pool.Open(path, pool.Options{})
	require.NoError(t, err)
	defer p.Close()
	s, err := replica.Open(p)
	require.NoError(t, err)
	require.NoError(t, s.SetExecuteUB(3))
	require.NoError(t, s.AddDecided(4))
	require.NoError(t, s.AddDecided(5))
	require.NoError(t, s.SetLastReply(8, 1, []byte("ok")))
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) {
	t.Helper()
	var result any
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Errorf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
