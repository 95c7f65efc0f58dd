package domain

// Runtime is the subset of configuration the core components see.
type Runtime struct {
	Environment Environment `yaml:"environment"`
	Version     string      `yaml:"version"`
	Identity    string      `yaml:"identity"`
}

func (r Runtime) IsProduction() bool {
	return r.Environment == EnvironmentProduction
}
