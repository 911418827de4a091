package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/mitchellh/cli"
	"github.com/spf13/afero"
)

const sensorsDataflow = `
apiVersion: 0.6.0
meta:
  name: sensors
  version: 0.1.0
  namespace: example
types:
  reading:
    type: object
    properties:
      sensor:
        type: string
      value:
        type: f64
topics:
  readings:
    schema:
      value:
        type: reading
  scaled:
    schema:
      value:
        type: reading
services:
  scale-service:
    sources:
      - type: topic
        id: readings
    transforms:
      - operator: map
        uses: scale
        inputs:
          - name: value
            type: reading
        output:
          type: reading
    sinks:
      - type: topic
        id: scaled
`

const counterPackage = `
apiVersion: 0.5.0
meta:
  name: counter
  version: 0.1.0
  namespace: example
functions:
  word-len:
    operator: map
    inputs:
      - name: input
        type: string
    output:
      type: u32
`

func testMeta(t *testing.T, files map[string]string) (*Meta, *cli.MockUi) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, text := range files {
		if err := afero.WriteFile(fs, path, []byte(text), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
	ui := cli.NewMockUi()
	return &Meta{Ui: ui, Fs: fs, Log: io.Discard}, ui
}

func verifyRun(t *testing.T, cmd cli.Command, args []string, want int, ui *cli.MockUi) {
	t.Helper()
	if code := cmd.Run(args); code != want {
		t.Fatalf("Expected exit code %d, got %d\nstdout: %s\nstderr: %s",
			want, code, ui.OutputWriter.String(), ui.ErrorWriter.String())
	}
}

func TestGenerateCommand(t *testing.T) {
	meta, ui := testMeta(t, map[string]string{"/pkg/sdf-package.yaml": counterPackage})

	verifyRun(t, &GenerateCommand{Meta: *meta}, []string{"/pkg/sdf-package.yaml"}, 0, ui)
	if !strings.Contains(ui.OutputWriter.String(), "wrote /pkg/.wit/api.wit") {
		t.Errorf("Expected write report, got %q", ui.OutputWriter.String())
	}
	text, err := afero.ReadFile(meta.Fs, "/pkg/.wit/api.wit")
	if err != nil {
		t.Fatalf("Expected api.wit to be written: %v", err)
	}
	if !strings.Contains(string(text), "word-len: func(input: string) -> result<u32, string>;") {
		t.Errorf("Expected word-len service in api.wit, got\n%s", text)
	}

	ui.OutputWriter.Reset()
	verifyRun(t, &GenerateCommand{Meta: *meta}, []string{"/pkg/sdf-package.yaml"}, 0, ui)
	if !strings.Contains(ui.OutputWriter.String(), "up to date") {
		t.Errorf("Expected second run to be skipped, got %q", ui.OutputWriter.String())
	}

	ui.OutputWriter.Reset()
	verifyRun(t, &GenerateCommand{Meta: *meta}, []string{"-force", "-o", "/out", "/pkg/sdf-package.yaml"}, 0, ui)
	if exists, _ := afero.Exists(meta.Fs, "/out/api.wit"); !exists {
		t.Error("Expected -o to redirect the output")
	}
}

const basePackage = `
apiVersion: 0.5.0
meta: { name: base, version: 0.1.0, namespace: example }
types:
  amount:
    type: %s
`

const appPackage = `
apiVersion: 0.5.0
meta: { name: app, version: 0.1.0, namespace: example }
imports:
  - pkg: example/base@0.1.0
    path: ../base
    types:
      - name: amount
functions:
  double:
    operator: map
    inputs:
      - name: value
        type: amount
    output:
      type: amount
`

func TestGenerateNoticesImportChanges(t *testing.T) {
	meta, ui := testMeta(t, map[string]string{
		"/pkgs/base/sdf-package.yaml": fmt.Sprintf(basePackage, "u64"),
		"/pkgs/app/sdf-package.yaml":  appPackage,
	})
	verifyRun(t, &GenerateCommand{Meta: *meta}, []string{"/pkgs/app/sdf-package.yaml"}, 0, ui)

	if err := afero.WriteFile(meta.Fs, "/pkgs/base/sdf-package.yaml", []byte(fmt.Sprintf(basePackage, "u32")), 0o644); err != nil {
		t.Fatalf("Failed to update base package: %v", err)
	}
	ui.OutputWriter.Reset()
	verifyRun(t, &GenerateCommand{Meta: *meta}, []string{"/pkgs/app/sdf-package.yaml"}, 0, ui)
	if !strings.Contains(ui.OutputWriter.String(), "wrote /pkgs/app/.wit/api.wit") {
		t.Errorf("Expected api.wit to be rewritten after the import changed, got %q", ui.OutputWriter.String())
	}
	text, _ := afero.ReadFile(meta.Fs, "/pkgs/app/.wit/api.wit")
	if !strings.Contains(string(text), "type amount = u32;") {
		t.Errorf("Expected the new imported definition in api.wit, got\n%s", text)
	}
}

func TestGenerateRejectsBadConfig(t *testing.T) {
	meta, ui := testMeta(t, map[string]string{
		"/sdfc.yaml":            "log:\n  level: loud\n",
		"/pkg/sdf-package.yaml": counterPackage,
	})
	verifyRun(t, &GenerateCommand{Meta: *meta}, []string{"-config", "/sdfc.yaml", "/pkg/sdf-package.yaml"}, 1, ui)
	if !strings.Contains(ui.ErrorWriter.String(), "unknown log level") {
		t.Errorf("Expected config error, got %q", ui.ErrorWriter.String())
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		code     int
		contains []string
	}{
		{
			name:     "all valid",
			args:     []string{"/flows/sensors/*.yaml", "/flows/**/sdf-package.yaml"},
			code:     0,
			contains: []string{"/flows/sensors/dataflow.yaml: ok", "/flows/pkg/sdf-package.yaml: ok"},
		},
		{
			name:     "one broken",
			args:     []string{"/flows/**/*.yaml"},
			code:     1,
			contains: []string{"/flows/broken/dataflow.yaml: invalid", "1 of 3 documents failed validation"},
		},
		{
			name:     "nothing matches",
			args:     []string{"/nowhere/*.yaml"},
			code:     1,
			contains: []string{"no documents match"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			meta, ui := testMeta(t, map[string]string{
				"/flows/sensors/dataflow.yaml": sensorsDataflow,
				"/flows/pkg/sdf-package.yaml":  counterPackage,
				"/flows/broken/dataflow.yaml":  "apiVersion: [oops\n",
			})
			verifyRun(t, &ValidateCommand{Meta: *meta}, tt.args, tt.code, ui)
			all := ui.OutputWriter.String() + ui.ErrorWriter.String()
			for _, s := range tt.contains {
				if !strings.Contains(all, s) {
					t.Errorf("Expected output to contain %q, got\n%s", s, all)
				}
			}
		})
	}
}

func TestDepsCommand(t *testing.T) {
	meta, ui := testMeta(t, map[string]string{"/flows/dataflow.yaml": sensorsDataflow})
	verifyRun(t, &DepsCommand{Meta: *meta}, []string{"/flows/dataflow.yaml"}, 0, ui)
	if !strings.HasPrefix(ui.OutputWriter.String(), "sensors") {
		t.Errorf("Expected tree rooted at sensors, got %q", ui.OutputWriter.String())
	}
}

func TestAvroCommand(t *testing.T) {
	meta, ui := testMeta(t, map[string]string{"/flows/dataflow.yaml": sensorsDataflow})
	verifyRun(t, &AvroCommand{Meta: *meta}, []string{"-namespace", "org.acme", "/flows/dataflow.yaml"}, 0, ui)

	out := ui.OutputWriter.String()
	for _, s := range []string{`"subject": "readings-value"`, `"subject": "scaled-value"`, `org.acme.reading`} {
		if !strings.Contains(out, s) {
			t.Errorf("Expected avro report to contain %q, got\n%s", s, out)
		}
	}
}

func TestInspectCommand(t *testing.T) {
	meta, ui := testMeta(t, map[string]string{"/flows/dataflow.yaml": sensorsDataflow})
	verifyRun(t, &InspectCommand{Meta: *meta}, []string{"/flows/dataflow.yaml"}, 0, ui)
	if !strings.Contains(ui.OutputWriter.String(), `"dataflow"`) {
		t.Errorf("Expected dataflow JSON, got %q", ui.OutputWriter.String())
	}

	meta, ui = testMeta(t, nil)
	verifyRun(t, &InspectCommand{Meta: *meta}, []string{"/missing.yaml"}, 1, ui)
}

func TestRunUnknownFlag(t *testing.T) {
	meta, _ := testMeta(t, nil)
	if code := run([]string{"deps", "-bogus"}, meta); code != cli.RunResultHelp && code != 1 {
		t.Errorf("Expected help or failure exit code, got %d", code)
	}
}
