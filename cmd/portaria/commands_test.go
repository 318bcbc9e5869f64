package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asakaida/portaria/internal/entities"
	"github.com/asakaida/portaria/internal/handlers"
	"github.com/spf13/viper"
)

const rulesFile = "../../internal/repositories/yamlfile/testdata/rules.yaml"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEvaluateCmd(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantReason string
		wantErr    bool
	}{
		{
			name:       "allowed inside the enrollment window",
			args:       []string{"--role", "secretaria", "--payment", "paid", "--now", "2025-02-12"},
			wantReason: entities.ReasonAllow,
		},
		{
			name:       "overdue payment",
			args:       []string{"--role", "secretaria", "--payment", "overdue", "--now", "2025-02-12T15:00:00-03:00"},
			wantReason: entities.ReasonPaymentDeny,
		},
		{
			name:       "no grant",
			args:       []string{"--role", "aluno", "--payment", "paid", "--now", "2025-02-12"},
			wantReason: entities.ReasonNoGrant,
		},
		{
			name:       "missing institution",
			args:       []string{"--role", "secretaria", "--institution", ""},
			wantReason: entities.ReasonInvalidRequest,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"evaluate", "--rules", rulesFile,
				"--resource", "matricula", "--action", "criar",
				"--institution", "inst-1", "--phase", "active"}, tt.args...)

			out, err := execute(t, args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("evaluate error = %v, wantErr %v\n%s", err, tt.wantErr, out)
			}

			// The decision is printed before any error message
			var view handlers.DecisionView
			if err := json.NewDecoder(strings.NewReader(out)).Decode(&view); err != nil {
				t.Fatalf("evaluate output is not a decision: %v\n%s", err, out)
			}
			if view.Reason != tt.wantReason {
				t.Errorf("evaluate reason = %v, want %v", view.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluateCmd_BadNow(t *testing.T) {
	_, err := execute(t, "evaluate", "--rules", rulesFile, "--resource", "matricula", "--action", "criar",
		"--institution", "inst-1", "--now", "next tuesday")
	if err == nil || !strings.Contains(err.Error(), "--now") {
		t.Errorf("evaluate error = %v, want --now format error", err)
	}
}

func TestValidateCmd(t *testing.T) {
	out, err := execute(t, "validate", "--rules", rulesFile)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "ok (3 grants, 3 phase rules, 3 period rules, 2 payment rules, 4 periods)") {
		t.Errorf("validate output = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	content := `version: 1
period_rules:
  - {id: 5, resource: matricula, action: criar, period_type: academic, days_after_end: -3}
`
	if err := os.WriteFile(bad, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err = execute(t, "validate", "--rules", bad)
	if err == nil || !strings.Contains(err.Error(), "period_rule:5") {
		t.Errorf("validate error = %v, want configuration error for period_rule:5", err)
	}

	if _, err := execute(t, "validate"); err == nil {
		t.Error("validate without --rules should return error")
	}
}

func TestRulesCmd(t *testing.T) {
	out, err := execute(t, "rules", "--rules", rulesFile, "--resource", "matricula", "--action", "criar")
	if err != nil {
		t.Fatalf("rules error = %v", err)
	}

	for _, want := range []string{"phase=suspended", "academic -0d/+10d", "payment_status=overdue"} {
		if !strings.Contains(out, want) {
			t.Errorf("rules output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "phase=canceled") {
		t.Errorf("rules output lists the inactive rule:\n%s", out)
	}
}
