package domain

// ConfigurationType classifies a blueprint entry.
type ConfigurationType string

const (
	ConfigEnvVar           ConfigurationType = "env_var"
	ConfigAPIEndpoint      ConfigurationType = "api_endpoint"
	ConfigDatabaseSetting  ConfigurationType = "database_setting"
	ConfigFrontendConfig   ConfigurationType = "frontend_config"
	ConfigDeploymentConfig ConfigurationType = "deployment_config"
)

// Valid reports whether t is a known configuration type.
func (t ConfigurationType) Valid() bool {
	switch t {
	case ConfigEnvVar, ConfigAPIEndpoint, ConfigDatabaseSetting, ConfigFrontendConfig, ConfigDeploymentConfig:
		return true
	}
	return false
}

// ConfigurationItem is a documented "should-be" fact about the system.
type ConfigurationItem struct {
	Type            ConfigurationType `yaml:"type"`
	Name            string            `yaml:"name"`
	Description     string            `yaml:"description"`
	Location        string            `yaml:"location"`
	PotentialIssues []string          `yaml:"potentialIssues"`
	FixStrategies   []string          `yaml:"fixStrategies"`
	// ProblemMarkers are content fragments that historically caused bugs
	// in a frontend file. Empty means the detector defaults apply.
	ProblemMarkers           []string             `yaml:"problemMarkers,omitempty"`
	UniversalFixInstructions []AutoFixInstruction `yaml:"universalFixInstructions,omitempty"`
}

// Key identifies the item within the catalog.
func (c *ConfigurationItem) Key() string {
	return string(c.Type) + ":" + c.Name
}
