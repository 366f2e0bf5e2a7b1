// Package policy — YAML-loaded role/operation matrix layered on top of the
// membership check. The mirror answers "does this user hold a role on this
// project"; the policy answers "may that role perform this operation".
// Supports environment variable overrides via ${VAR} or $VAR syntax in values.
package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/crewdeck/crewdeck/internal/model"
)

// Operation names the actions the policy gates.
type Operation string

const (
	OpProjectRead       Operation = "project.read"
	OpProjectUpdate     Operation = "project.update"
	OpProjectDelete     Operation = "project.delete"
	OpProjectShare      Operation = "project.share"
	OpCredentialsUpdate Operation = "credentials.update"
	OpTaskWrite         Operation = "task.write"
	OpTaskDelete        Operation = "task.delete"
	OpCommentWrite      Operation = "comment.write"
	OpMemberInvite      Operation = "member.invite"
	OpMemberRemove      Operation = "member.remove"
	OpInsightsRun       Operation = "insights.run"
)

// Policy maps roles to the operations they may perform.
type Policy struct {
	grants map[model.MemberRole]map[Operation]bool
}

// File is the YAML shape of a policy file.
type File struct {
	Roles map[string][]string `yaml:"roles"`
}

// Default returns the built-in policy used when no file is configured:
// owners do everything, admins everything but delete the project or touch
// credentials, members read and write work items.
func Default() *Policy {
	return mustBuild(File{Roles: map[string][]string{
		"owner": {"*"},
		"admin": {
			string(OpProjectRead), string(OpProjectUpdate), string(OpProjectShare),
			string(OpTaskWrite), string(OpTaskDelete), string(OpCommentWrite),
			string(OpMemberInvite), string(OpMemberRemove), string(OpInsightsRun),
		},
		"member": {
			string(OpProjectRead), string(OpTaskWrite), string(OpCommentWrite),
			string(OpInsightsRun),
		},
	}})
}

// Load reads a policy file, expanding ${VAR} references before parsing.
func Load(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes parses policy YAML.
func LoadBytes(data []byte) (*Policy, error) {
	expanded := expandEnvVars(string(data))
	var f File
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}
	return build(f)
}

func build(f File) (*Policy, error) {
	p := &Policy{grants: make(map[model.MemberRole]map[Operation]bool)}
	for roleName, ops := range f.Roles {
		role := model.MemberRole(roleName)
		if !role.IsValid() {
			return nil, fmt.Errorf("policy: unknown role %q", roleName)
		}
		grants := make(map[Operation]bool, len(ops))
		for _, op := range ops {
			grants[Operation(op)] = true
		}
		p.grants[role] = grants
	}
	return p, nil
}

func mustBuild(f File) *Policy {
	p, err := build(f)
	if err != nil {
		panic(err)
	}
	return p
}

// Allows reports whether the role may perform the operation. A "*" grant
// covers every operation. Unknown roles may do nothing.
func (p *Policy) Allows(role model.MemberRole, op Operation) bool {
	grants, ok := p.grants[role]
	if !ok {
		return false
	}
	return grants["*"] || grants[op]
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the corresponding environment
// variable. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		return os.Getenv(name)
	})
}
