package commands

import (
	"io"
	"sort"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/junioryono/ccr/dto"
)

type containerView struct {
	BundleID    int64           `yaml:"bundleId"`
	Name        string          `yaml:"name"`
	ChangeCount int64           `yaml:"changeCount"`
	Extensions  int             `yaml:"extensions"`
	Errors      []string        `yaml:"errors,omitempty"`
	Components  []componentView `yaml:"components"`
}

type componentView struct {
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	Beans     []string       `yaml:"beans,omitempty"`
	Instances []instanceView `yaml:"instances"`
}

type instanceView struct {
	PID        string          `yaml:"pid,omitempty"`
	State      string          `yaml:"state"`
	Properties map[string]any  `yaml:"properties,omitempty"`
	References []referenceView `yaml:"references,omitempty"`
	Services   []int64         `yaml:"services,omitempty"`
	Errors     []string        `yaml:"errors,omitempty"`
}

type referenceView struct {
	Name    string `yaml:"name"`
	Filter  string `yaml:"filter"`
	Minimum int    `yaml:"minimum"`
	Matches int    `yaml:"matches"`
	Bound   int    `yaml:"bound"`
}

func newContainerView(c *dto.ContainerDTO) containerView {
	v := containerView{
		BundleID:    c.BundleID,
		ChangeCount: c.ChangeCount,
		Extensions:  len(c.Extensions),
		Errors:      c.Errors,
	}
	if c.Template != nil {
		v.Name = c.Template.ID
	}

	for _, comp := range c.Components {
		cv := componentView{
			Name:  comp.Template.Name,
			Type:  comp.Template.Type.String(),
			Beans: comp.Template.Beans,
		}
		for _, inst := range comp.Instances {
			cv.Instances = append(cv.Instances, newInstanceView(inst))
		}
		v.Components = append(v.Components, cv)
	}
	sort.SliceStable(v.Components, func(i, j int) bool {
		return v.Components[i].Name < v.Components[j].Name
	})
	return v
}

func newInstanceView(inst *dto.ComponentInstanceDTO) instanceView {
	iv := instanceView{
		PID:        inst.PID,
		State:      inst.State.String(),
		Properties: inst.Properties,
	}
	for _, r := range inst.References {
		iv.References = append(iv.References, referenceView{
			Name:    r.Template.Name,
			Filter:  r.TargetFilter,
			Minimum: r.MinimumCardinality,
			Matches: len(r.Matches),
			Bound:   len(r.Bound),
		})
	}
	for _, a := range inst.Activations {
		if a.Service != nil {
			iv.Services = append(iv.Services, a.Service.ID)
		}
		iv.Errors = append(iv.Errors, a.Errors...)
	}
	return iv
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeList(w io.Writer, containers []*dto.ContainerDTO) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fprintf(tw, "ID\tNAME\tCOMPONENTS\tACTIVE\tERRORS\tCHANGES\n")
	for _, c := range containers {
		v := newContainerView(c)
		active, total := 0, 0
		for _, comp := range v.Components {
			for _, inst := range comp.Instances {
				total++
				if inst.State == dto.Active.String() {
					active++
				}
			}
		}
		fprintf(tw, "%d\t%s\t%d\t%d/%d\t%d\t%d\n",
			v.BundleID, v.Name, len(v.Components), active, total, len(v.Errors), v.ChangeCount)
	}
	return tw.Flush()
}

func writeInfo(w io.Writer, c *dto.ContainerDTO) error {
	v := newContainerView(c)
	fprintf(w, "Container %d (%s), change count %d\n", v.BundleID, v.Name, v.ChangeCount)
	for _, comp := range v.Components {
		fprintf(w, "  %s [%s]\n", comp.Name, comp.Type)
		for _, inst := range comp.Instances {
			label := inst.State
			if inst.PID != "" {
				label = inst.PID + " " + label
			}
			fprintf(w, "    %s, %d service(s)\n", label, len(inst.Services))
			for _, r := range inst.References {
				fprintf(w, "      ref %s %s matches=%d bound=%d min=%d\n",
					r.Name, r.Filter, r.Matches, r.Bound, r.Minimum)
			}
		}
	}
	for _, e := range v.Errors {
		fprintf(w, "  error: %s\n", e)
	}
	return nil
}
