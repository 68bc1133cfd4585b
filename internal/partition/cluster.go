package partition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Machine is one cluster member in the namebook.
type Machine struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
}

// ClusterConfig is the yaml cluster description: the machine namebook plus
// the path of the shared partition book.
type ClusterConfig struct {
	Machines []Machine `yaml:"machines"`
	Book     string    `yaml:"book,omitempty"`
}

// LoadCluster reads a cluster config from path.
func LoadCluster(path string) (*ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cluster config: %w", err)
	}
	var c ClusterConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing cluster config: %w", err)
	}
	if len(c.Machines) == 0 {
		return nil, fmt.Errorf("cluster config %s declares no machines", path)
	}
	return &c, nil
}

// Addr resolves a machine name to its address.
func (c *ClusterConfig) Addr(name string) (string, error) {
	for _, m := range c.Machines {
		if m.Name == name {
			return m.Addr, nil
		}
	}
	return "", fmt.Errorf("%w: machine %q not in cluster config", tensor.ErrTypeNotFound, name)
}

// Names returns every machine name in declaration order.
func (c *ClusterConfig) Names() []string {
	out := make([]string, len(c.Machines))
	for i, m := range c.Machines {
		out[i] = m.Name
	}
	return out
}
