package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/forge-backend/internal/jobs/worker"
)

// laneFile is the QUEUE_CONFIG_FILE layout:
//
//	lanes:
//	  - name: build_start
//	    concurrency: 10
//	    rate_per_second: 50
//	    burst: 10
//	  - name: deletes
//	    job_types: [workflow_run_delete, workflow_artifact_delete]
//	    concurrency: 2
type laneFile struct {
	Lanes []laneSpec `yaml:"lanes"`
}

type laneSpec struct {
	Name          string   `yaml:"name"`
	JobTypes      []string `yaml:"job_types"`
	Concurrency   int      `yaml:"concurrency"`
	RatePerSecond float64  `yaml:"rate_per_second"`
	Burst         int      `yaml:"burst"`
}

// applyLaneFile overlays the lanes in path onto cfg. A lane with a known
// name only overrides the fields it sets; an unknown name adds a lane.
func applyLaneFile(cfg worker.Config, path string) (worker.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read queue config %s: %w", path, err)
	}
	var f laneFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return cfg, fmt.Errorf("parse queue config %s: %w", path, err)
	}

	lanes := append([]worker.Lane(nil), cfg.Lanes...)
	index := make(map[string]int, len(lanes))
	for i, ln := range lanes {
		index[ln.Name] = i
	}
	claimed := map[string]string{}
	for _, spec := range f.Lanes {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return cfg, fmt.Errorf("queue config %s: lane without name", path)
		}
		if spec.Concurrency < 0 || spec.RatePerSecond < 0 || spec.Burst < 0 {
			return cfg, fmt.Errorf("queue config %s: lane %s has negative limits", path, name)
		}
		i, ok := index[name]
		if !ok {
			lanes = append(lanes, worker.Lane{Name: name, Concurrency: 1})
			i = len(lanes) - 1
			index[name] = i
		}
		ln := &lanes[i]
		if len(spec.JobTypes) > 0 {
			ln.JobTypes = spec.JobTypes
		}
		if spec.Concurrency > 0 {
			ln.Concurrency = spec.Concurrency
		}
		if spec.RatePerSecond > 0 {
			ln.RatePerSecond = spec.RatePerSecond
		}
		if spec.Burst > 0 {
			ln.Burst = spec.Burst
		}
	}

	// A job type listed by two lanes would be claimed by whichever polls first.
	for _, ln := range lanes {
		for _, jt := range ln.JobTypes {
			if other, dup := claimed[jt]; dup {
				return cfg, fmt.Errorf("queue config %s: job type %s in lanes %s and %s", path, jt, other, ln.Name)
			}
			claimed[jt] = ln.Name
		}
	}
	cfg.Lanes = lanes
	return cfg, nil
}
