package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetbridge/backend/internal/device"
	"github.com/fleetbridge/backend/internal/inventory"
	"github.com/fleetbridge/backend/internal/models"
)

// Each job type carries its own payload schema; the free-form JSONB column
// is decoded into the matching struct here so every executor path works with
// checked fields instead of an untyped blob.

var ErrUnknownType = errors.New("unknown job type")

type RunCommandsPayload struct {
	Commands []string `json:"commands"`
}

type ConfigBackupPayload struct {
	// No required fields; kept as a struct so unknown keys are still decoded
	// and future options have a home.
}

type ConfigDeployPayload struct {
	Config  string `json:"config"`
	Comment string `json:"comment,omitempty"`
}

type ComplianceRule struct {
	Name      string `json:"name"`
	Pattern   string `json:"pattern"`
	MustMatch bool   `json:"mustMatch"`
}

type ComplianceCheckPayload struct {
	Rules []ComplianceRule `json:"rules"`
}

type TopologyDiscoveryPayload struct {
	Protocols []string `json:"protocols,omitempty"`
}

type WorkflowStepPayload struct {
	Step     string   `json:"step"`
	Commands []string `json:"commands,omitempty"`
}

func decode(payload models.JSONB, into interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}

// ValidatePayload checks a submission payload against its job type's schema.
// Used by the ledger before a job row is created.
func ValidatePayload(t models.JobType, payload models.JSONB) error {
	switch t {
	case models.JobTypeRunCommands:
		var p RunCommandsPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		if len(p.Commands) == 0 {
			return errors.New("run-commands payload requires at least one command")
		}
	case models.JobTypeConfigBackup:
		var p ConfigBackupPayload
		return decode(payload, &p)
	case models.JobTypeConfigDeployPreview, models.JobTypeConfigDeployCommit:
		var p ConfigDeployPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		if p.Config == "" {
			return errors.New("config deploy payload requires a config")
		}
	case models.JobTypeComplianceCheck:
		var p ComplianceCheckPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		if len(p.Rules) == 0 {
			return errors.New("compliance-check payload requires at least one rule")
		}
		for _, r := range p.Rules {
			if r.Name == "" || r.Pattern == "" {
				return fmt.Errorf("compliance rule %q needs both name and pattern", r.Name)
			}
		}
	case models.JobTypeTopologyDiscovery:
		var p TopologyDiscoveryPayload
		return decode(payload, &p)
	case models.JobTypeWorkflowStep:
		var p WorkflowStepPayload
		if err := decode(payload, &p); err != nil {
			return err
		}
		if p.Step == "" {
			return errors.New("workflow-step payload requires a step name")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return nil
}

// Registry binds job types to per-host operations over a device client.
type Registry struct {
	client device.Client
}

func NewRegistry(client device.Client) *Registry {
	return &Registry{client: client}
}

// Operation returns the per-host callable for a job. The payload is decoded
// once here; the returned func does exactly one device action per host.
func (r *Registry) Operation(t models.JobType, payload models.JSONB) (func(ctx context.Context, host inventory.HostDescriptor) (map[string]interface{}, error), error) {
	switch t {
	case models.JobTypeRunCommands:
		var p RunCommandsPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return r.runCommands(p.Commands), nil
	case models.JobTypeConfigBackup:
		return r.configBackup(), nil
	case models.JobTypeConfigDeployPreview:
		var p ConfigDeployPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return r.configDeploy(p, false), nil
	case models.JobTypeConfigDeployCommit:
		var p ConfigDeployPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return r.configDeploy(p, true), nil
	case models.JobTypeComplianceCheck:
		var p ComplianceCheckPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return r.complianceCheck(p.Rules)
	case models.JobTypeTopologyDiscovery:
		var p TopologyDiscoveryPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return r.topologyDiscovery(p.Protocols), nil
	case models.JobTypeWorkflowStep:
		var p WorkflowStepPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return r.workflowStep(p), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}
