package model

// Tier is the closed set of deployment environments.
type Tier string

const (
	TierUAT        Tier = "uat"
	TierStaging    Tier = "staging"
	TierProduction Tier = "production"
)

// Valid reports whether the tier belongs to the known set.
func (t Tier) Valid() bool {
	switch t {
	case TierUAT, TierStaging, TierProduction:
		return true
	}
	return false
}

// EnvironmentProfile is the static configuration of one deployment tier.
// Profiles are looked up by the resolver and never mutated at runtime.
type EnvironmentProfile struct {
	Tier             Tier              `json:"tier" yaml:"tier"`
	ContainerName    string            `json:"containerName" yaml:"containerName"`
	Port             int               `json:"port" yaml:"port"`
	RequiresApproval bool              `json:"requiresApproval" yaml:"requiresApproval"`
	AgentAddr        string            `json:"agentAddr" yaml:"agentAddr"`       // host agent base URL for the target host
	HealthPath       string            `json:"healthPath" yaml:"healthPath"`     // app health endpoint, e.g. /health
	ReadyPath        string            `json:"readyPath" yaml:"readyPath"`       // app readiness endpoint
	RuntimeEnv       map[string]string `json:"runtimeEnv" yaml:"runtimeEnv"`     // passed opaquely to the started instance
	TriggerRefs      []string          `json:"triggerRefs" yaml:"triggerRefs"`   // branch/tag names mapping to this tier
}
