package config

import "strings"

// BaseSource names where a resolved API base came from.
type BaseSource string

const (
	SourceOverride  BaseSource = "override"
	SourceBuildTime BaseSource = "build"
	SourceEnv       BaseSource = "env"
	SourceOrigin    BaseSource = "origin"
	SourceNone      BaseSource = "none"
)

// BaseInputs enumerates the candidate API bases in priority order.
type BaseInputs struct {
	Override  string
	BuildTime string
	Env       string
	Origin    string
}

// Inputs returns the base candidates known to this configuration. The
// override slot is left for the caller (flags, CLI context).
func (c *Config) Inputs(override string) BaseInputs {
	return BaseInputs{
		Override:  override,
		BuildTime: BuildBaseURL,
		Env:       c.APIBase,
		Origin:    c.Origin,
	}
}

// ResolveBase picks the first non-empty candidate. An empty result means
// requests use relative paths.
func ResolveBase(in BaseInputs) (string, BaseSource) {
	candidates := []struct {
		value  string
		source BaseSource
	}{
		{in.Override, SourceOverride},
		{in.BuildTime, SourceBuildTime},
		{in.Env, SourceEnv},
		{in.Origin, SourceOrigin},
	}
	for _, candidate := range candidates {
		if value := strings.TrimSpace(candidate.value); value != "" {
			return value, candidate.source
		}
	}
	return "", SourceNone
}
