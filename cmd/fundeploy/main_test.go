package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/fundeploy/internal/config"
	"github.com/yairfalse/fundeploy/report"
)

const (
	helloworld = "../../template/testdata/helloworld.yml"
	timer      = "../../template/testdata/timer.yml"
	policies   = "../../policy/testdata"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "template.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidate(t *testing.T) {
	code, stdout, stderr := execute(t, "validate", helloworld)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "is valid (3 resources)")
}

func TestValidate_SchemaViolation(t *testing.T) {
	path := writeTemplate(t, `
fc:
  Type: 'Fun::Serverless::Service'
  hello:
    Type: 'Fun::Serverless::Function'
    Properties:
      Handler: index.handler
      Runtime: cobol
      CodeUri: './'
`)
	code, _, stderr := execute(t, "validate", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "schema violation")
	assert.Contains(t, stderr, "Runtime")
}

func TestValidate_PolicyDenial(t *testing.T) {
	code, _, stderr := execute(t, "validate", timer, "--policy-dir", policies)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "denied by policy")
	assert.Contains(t, stderr, "MyService/MyFunction")
}

func TestPlan(t *testing.T) {
	code, stdout, stderr := execute(t, "plan", helloworld)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "RESOURCE")
	assert.Contains(t, stdout, "fc#role")
	assert.Contains(t, stdout, "fc/helloworld")
	assert.Contains(t, stdout, "3 resources")
}

func TestPlan_JSON(t *testing.T) {
	code, stdout, stderr := execute(t, "plan", helloworld, "--json")
	require.Equal(t, 0, code, stderr)

	var plan struct {
		Steps []struct {
			Index     int      `json:"index"`
			DependsOn []string `json:"dependsOn"`
			Unit      string   `json:"unit"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, []string{"fc#role"}, plan.Steps[1].DependsOn)
	assert.Equal(t, "fc", plan.Steps[2].Unit)
}

func TestPlan_Selection(t *testing.T) {
	code, stdout, stderr := execute(t, "plan", timer, "MyService", "--exclude-kind", "trigger")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "MyService/MyFunction")
	assert.NotContains(t, stdout, "TmTrigger")
	assert.Contains(t, stdout, "3 resources")

	code, _, stderr = execute(t, "plan", timer, "Nope")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `unknown resource "Nope"`)

	code, _, stderr = execute(t, "plan", timer, "--exclude-kind", "Bucket")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `unknown resource kind "Bucket"`)
}

func TestDeploy_LocalBackend(t *testing.T) {
	state := t.TempDir()
	journal := t.TempDir()

	code, stdout, stderr := execute(t, "deploy", helloworld,
		"--state-dir", state, "--journal-dir", journal, "--parallelism", "1")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "3 realized")

	code, stdout, stderr = execute(t, "journal", "--journal-dir", journal)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "planned")
	assert.Contains(t, stdout, "realized")
	assert.Contains(t, stdout, "fc/helloworld")
	assert.Contains(t, stdout, "completed")

	code, stdout, stderr = execute(t, "journal", "--journal-dir", journal, "--stats")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"total_files": 1`)
}

func TestDeploy_Idempotent(t *testing.T) {
	state := t.TempDir()

	deploy := func() *report.Report {
		code, stdout, stderr := execute(t, "deploy", helloworld, "--state-dir", state, "--json")
		require.Equal(t, 0, code, stderr)
		var rep report.Report
		require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
		return &rep
	}

	first := deploy()
	second := deploy()
	require.Len(t, first.Order, 3)
	for _, id := range first.Order {
		require.NotNil(t, first.Resources[id].Handle, id)
		assert.Equal(t, first.Resources[id].Handle, second.Resources[id].Handle, id)
	}
}

func TestDeploy_RejectedTemplateCreatesNothing(t *testing.T) {
	state := t.TempDir()
	path := writeTemplate(t, `
grp:
  Type: 'Fun::Serverless::Group'
route:
  Type: 'Fun::Serverless::Api'
  Properties:
    GroupName: grp
    Method: get
    RequestPath: /x
    ServiceName: nope
    FunctionName: nope
`)
	code, stdout, stderr := execute(t, "deploy", path, "--state-dir", state)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "route references unknown service")
}

func TestUnknownBackend(t *testing.T) {
	code, _, stderr := execute(t, "deploy", helloworld, "--backend", "gcp")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown backend")
}

func TestJournal_NoDirectory(t *testing.T) {
	code, _, stderr := execute(t, "journal")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no journal directory")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "fundeploy.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[backend]
name = "local"
state_dir = "`+filepath.Join(dir, "state")+`"

[reconcile]
parallelism = 2

[policy]
dir = "`+policies+`"
`), 0o600))

	code, _, stderr := execute(t, "validate", timer, "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "denied by policy")

	code, stdout, stderr := execute(t, "deploy", helloworld, "--config", cfgPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "3 realized")
}

func TestReconcilerOptions_ZeroRetries(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "fundeploy.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[reconcile]\nmax_retries = 0\n"), 0o600))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	opts := reconcilerOptions(cfg.Reconcile)
	assert.Equal(t, uint(0), opts.MaxRetries)
	assert.Equal(t, 4, opts.Parallelism)
}
