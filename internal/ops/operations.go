package ops

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fleetbridge/backend/internal/inventory"
)

type opFunc = func(ctx context.Context, host inventory.HostDescriptor) (map[string]interface{}, error)

func (r *Registry) runCommands(commands []string) opFunc {
	return func(ctx context.Context, host inventory.HostDescriptor) (map[string]interface{}, error) {
		outputs, err := r.client.RunCommands(ctx, host, commands)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"outputs": outputs}, nil
	}
}

func (r *Registry) configBackup() opFunc {
	return func(ctx context.Context, host inventory.HostDescriptor) (map[string]interface{}, error) {
		config, err := r.client.FetchConfig(ctx, host)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"config": config,
			"bytes":  len(config),
		}, nil
	}
}

func (r *Registry) configDeploy(p ConfigDeployPayload, commit bool) opFunc {
	return func(ctx context.Context, host inventory.HostDescriptor) (map[string]interface{}, error) {
		out, err := r.client.PushConfig(ctx, host, p.Config, commit)
		if err != nil {
			return nil, err
		}
		data := map[string]interface{}{"output": out}
		if commit {
			data["committed"] = true
			if p.Comment != "" {
				data["comment"] = p.Comment
			}
		} else {
			data["preview"] = true
		}
		return data, nil
	}
}

// complianceCheck compiles the rules once; a host whose config violates any
// rule counts as a failed host for the job's aggregate.
func (r *Registry) complianceCheck(rules []ComplianceRule) (opFunc, error) {
	type compiled struct {
		rule ComplianceRule
		re   *regexp.Regexp
	}
	compiledRules := make([]compiled, 0, len(rules))
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compliance rule %q has invalid pattern: %w", rule.Name, err)
		}
		compiledRules = append(compiledRules, compiled{rule: rule, re: re})
	}

	return func(ctx context.Context, host inventory.HostDescriptor) (map[string]interface{}, error) {
		config, err := r.client.FetchConfig(ctx, host)
		if err != nil {
			return nil, err
		}
		var violations []string
		for _, c := range compiledRules {
			matched := c.re.MatchString(config)
			if matched != c.rule.MustMatch {
				violations = append(violations, c.rule.Name)
			}
		}
		if len(violations) > 0 {
			return nil, fmt.Errorf("compliance failed: %s", strings.Join(violations, ", "))
		}
		return map[string]interface{}{"rulesChecked": len(compiledRules)}, nil
	}, nil
}

func (r *Registry) topologyDiscovery(protocols []string) opFunc {
	if len(protocols) == 0 {
		protocols = []string{"lldp"}
	}
	commands := make([]string, 0, len(protocols))
	for _, p := range protocols {
		commands = append(commands, fmt.Sprintf("show %s neighbors detail", p))
	}
	return func(ctx context.Context, host inventory.HostDescriptor) (map[string]interface{}, error) {
		outputs, err := r.client.RunCommands(ctx, host, commands)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"protocols": protocols,
			"neighbors": outputs,
		}, nil
	}
}

func (r *Registry) workflowStep(p WorkflowStepPayload) opFunc {
	return func(ctx context.Context, host inventory.HostDescriptor) (map[string]interface{}, error) {
		data := map[string]interface{}{"step": p.Step}
		if len(p.Commands) > 0 {
			outputs, err := r.client.RunCommands(ctx, host, p.Commands)
			if err != nil {
				return nil, err
			}
			data["outputs"] = outputs
		}
		return data, nil
	}
}
