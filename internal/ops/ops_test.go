package ops

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fleetbridge/backend/internal/inventory"
	"github.com/fleetbridge/backend/internal/models"
)

type fakeClient struct {
	config  string
	pushed  []string
	commits []bool
	fail    error
}

func (f *fakeClient) RunCommands(ctx context.Context, host inventory.HostDescriptor, commands []string) (map[string]string, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	out := make(map[string]string, len(commands))
	for _, cmd := range commands {
		out[cmd] = "output of " + cmd
	}
	return out, nil
}

func (f *fakeClient) FetchConfig(ctx context.Context, host inventory.HostDescriptor) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	return f.config, nil
}

func (f *fakeClient) PushConfig(ctx context.Context, host inventory.HostDescriptor, config string, commit bool) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.pushed = append(f.pushed, config)
	f.commits = append(f.commits, commit)
	return "diff applied", nil
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		jobType models.JobType
		payload models.JSONB
		valid   bool
	}{
		{"run-commands ok", models.JobTypeRunCommands, models.JSONB{"commands": []interface{}{"show version"}}, true},
		{"run-commands empty", models.JobTypeRunCommands, models.JSONB{"commands": []interface{}{}}, false},
		{"run-commands missing", models.JobTypeRunCommands, models.JSONB{}, false},
		{"config-backup empty ok", models.JobTypeConfigBackup, models.JSONB{}, true},
		{"deploy-preview ok", models.JobTypeConfigDeployPreview, models.JSONB{"config": "hostname x"}, true},
		{"deploy-commit missing config", models.JobTypeConfigDeployCommit, models.JSONB{}, false},
		{"compliance ok", models.JobTypeComplianceCheck, models.JSONB{"rules": []interface{}{
			map[string]interface{}{"name": "ssh", "pattern": "^ip ssh", "mustMatch": true},
		}}, true},
		{"compliance no rules", models.JobTypeComplianceCheck, models.JSONB{"rules": []interface{}{}}, false},
		{"compliance nameless rule", models.JobTypeComplianceCheck, models.JSONB{"rules": []interface{}{
			map[string]interface{}{"pattern": "x"},
		}}, false},
		{"topology empty ok", models.JobTypeTopologyDiscovery, models.JSONB{}, true},
		{"workflow ok", models.JobTypeWorkflowStep, models.JSONB{"step": "drain"}, true},
		{"workflow missing step", models.JobTypeWorkflowStep, models.JSONB{}, false},
		{"unknown type", "defragment", models.JSONB{}, false},
	}

	for _, test := range tests {
		err := ValidatePayload(test.jobType, test.payload)
		if test.valid && err != nil {
			t.Errorf("%s: expected valid, got %v", test.name, err)
		}
		if !test.valid && err == nil {
			t.Errorf("%s: expected rejection", test.name)
		}
	}
}

func TestRunCommandsOperation(t *testing.T) {
	registry := NewRegistry(&fakeClient{})

	op, err := registry.Operation(models.JobTypeRunCommands, models.JSONB{
		"commands": []interface{}{"show version", "show inventory"},
	})
	if err != nil {
		t.Fatalf("operation build failed: %v", err)
	}

	data, err := op(context.Background(), inventory.HostDescriptor{Name: "edge-01"})
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	outputs, ok := data["outputs"].(map[string]string)
	if !ok || len(outputs) != 2 {
		t.Fatalf("unexpected outputs: %+v", data)
	}
}

func TestConfigDeployPreviewNeverCommits(t *testing.T) {
	client := &fakeClient{}
	registry := NewRegistry(client)

	op, err := registry.Operation(models.JobTypeConfigDeployPreview, models.JSONB{"config": "hostname new"})
	if err != nil {
		t.Fatalf("operation build failed: %v", err)
	}
	data, err := op(context.Background(), inventory.HostDescriptor{Name: "edge-01"})
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}

	if len(client.commits) != 1 || client.commits[0] {
		t.Errorf("preview must push with commit=false, got %v", client.commits)
	}
	if data["preview"] != true {
		t.Errorf("expected preview marker in data, got %+v", data)
	}
}

func TestConfigDeployCommit(t *testing.T) {
	client := &fakeClient{}
	registry := NewRegistry(client)

	op, _ := registry.Operation(models.JobTypeConfigDeployCommit, models.JSONB{
		"config":  "hostname new",
		"comment": "maintenance window",
	})
	data, err := op(context.Background(), inventory.HostDescriptor{Name: "edge-01"})
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}

	if len(client.commits) != 1 || !client.commits[0] {
		t.Errorf("commit must push with commit=true, got %v", client.commits)
	}
	if data["committed"] != true || data["comment"] != "maintenance window" {
		t.Errorf("unexpected data: %+v", data)
	}
}

func TestComplianceCheckViolations(t *testing.T) {
	client := &fakeClient{config: "ip ssh version 2\nno service telnet\n"}
	registry := NewRegistry(client)

	payload := models.JSONB{"rules": []interface{}{
		map[string]interface{}{"name": "ssh-v2", "pattern": "ip ssh version 2", "mustMatch": true},
		map[string]interface{}{"name": "no-http", "pattern": "ip http server", "mustMatch": false},
	}}
	op, err := registry.Operation(models.JobTypeComplianceCheck, payload)
	if err != nil {
		t.Fatalf("operation build failed: %v", err)
	}

	if _, err := op(context.Background(), inventory.HostDescriptor{Name: "edge-01"}); err != nil {
		t.Fatalf("compliant config must pass: %v", err)
	}

	// Flip the config so both rules are violated.
	client.config = "ip http server\n"
	_, err = op(context.Background(), inventory.HostDescriptor{Name: "edge-01"})
	if err == nil {
		t.Fatal("expected compliance failure")
	}
	if !strings.Contains(err.Error(), "ssh-v2") || !strings.Contains(err.Error(), "no-http") {
		t.Errorf("expected both violated rules named, got %v", err)
	}
}

func TestComplianceCheckBadPattern(t *testing.T) {
	registry := NewRegistry(&fakeClient{})

	_, err := registry.Operation(models.JobTypeComplianceCheck, models.JSONB{"rules": []interface{}{
		map[string]interface{}{"name": "broken", "pattern": "([unclosed", "mustMatch": true},
	}})
	if err == nil {
		t.Fatal("expected invalid pattern to fail operation build")
	}
}

func TestTopologyDiscoveryDefaultsToLLDP(t *testing.T) {
	registry := NewRegistry(&fakeClient{})

	op, err := registry.Operation(models.JobTypeTopologyDiscovery, models.JSONB{})
	if err != nil {
		t.Fatalf("operation build failed: %v", err)
	}
	data, err := op(context.Background(), inventory.HostDescriptor{Name: "core-01"})
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}

	protocols, ok := data["protocols"].([]string)
	if !ok || len(protocols) != 1 || protocols[0] != "lldp" {
		t.Errorf("expected lldp default, got %+v", data["protocols"])
	}
}

func TestOperationErrorsPropagate(t *testing.T) {
	wantErr := errors.New("connection refused")
	registry := NewRegistry(&fakeClient{fail: wantErr})

	op, _ := registry.Operation(models.JobTypeConfigBackup, models.JSONB{})
	if _, err := op(context.Background(), inventory.HostDescriptor{Name: "edge-01"}); !errors.Is(err, wantErr) {
		t.Errorf("expected client error to propagate, got %v", err)
	}
}

func TestOperationUnknownType(t *testing.T) {
	registry := NewRegistry(&fakeClient{})
	if _, err := registry.Operation("defragment", models.JSONB{}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}
