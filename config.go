package tagcache

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type profilesFile struct {
	Profiles map[string]profileConfig `yaml:"profiles"`
}

type profileConfig struct {
	Stale      string `yaml:"stale"`
	Revalidate string `yaml:"revalidate"`
	Expire     string `yaml:"expire"`
}

// LoadProfiles reads named lifecycle profiles from a YAML file. Durations
// use Go syntax ("90s", "5m", "24h"); the keyword "max" means unbounded.
// The result is meant for Config.Profiles, where it overrides or extends
// the built-in profile table.
func LoadProfiles(filename string) (map[string]Policy, error) {
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var file profilesFile
	if err := yaml.Unmarshal(configBytes, &file); err != nil {
		return nil, err
	}
	profiles := make(map[string]Policy, len(file.Profiles))
	for name, pc := range file.Profiles {
		pol, err := pc.policy()
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		profiles[name] = pol
	}
	return profiles, nil
}

func (pc profileConfig) policy() (Policy, error) {
	stale, err := parseLifetime(pc.Stale)
	if err != nil {
		return Policy{}, err
	}
	revalidate, err := parseLifetime(pc.Revalidate)
	if err != nil {
		return Policy{}, err
	}
	expire, err := parseLifetime(pc.Expire)
	if err != nil {
		return Policy{}, err
	}
	pol := Policy{Stale: stale, Revalidate: revalidate, Expire: expire}
	if err := pol.Validate(); err != nil {
		return Policy{}, err
	}
	return pol, nil
}

func parseLifetime(s string) (time.Duration, error) {
	switch s {
	case "":
		return 0, nil
	case "max":
		return Unbounded, nil
	}
	return time.ParseDuration(s)
}
