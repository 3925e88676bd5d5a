// Package cloud provisions the bench instances.
package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// StatusActive is the status of a booted instance.
const StatusActive = "ACTIVE"

// DefaultNetwork is the network label instances are attached to.
const DefaultNetwork = "SEARCHOPENSTACKVMNETS"

type Flavor struct {
	Name string
	RAM  int
}

type Server struct {
	ID     string
	Name   string
	Status string
}

// Spec describes a batch of identical instances.
type Spec struct {
	Name     string
	Image    string
	Flavor   string
	Count    int
	Networks []string
}

// Names of the instances of the batch: name-1 ... name-N, or the bare name
// for a batch of one.
func (s Spec) Names() []string {
	if s.Count == 1 {
		return []string{s.Name}
	}
	names := make([]string, 0, s.Count)
	for i := 1; i <= s.Count; i++ {
		names = append(names, fmt.Sprintf("%s-%d", s.Name, i))
	}
	return names
}

// Compute is the part of the cloud API the provisioner needs.
type Compute interface {
	Flavors(ctx context.Context) ([]Flavor, error)
	// Server returns nil when no instance has the name.
	Server(ctx context.Context, name string) (*Server, error)
	CreateServer(ctx context.Context, name string, spec Spec) error
	RebuildServer(ctx context.Context, server *Server, spec Spec) error
	DeleteServer(ctx context.Context, server *Server) error
}

// FlavorOrder ranks flavors by RAM. The empty name ranks below every flavor.
type FlavorOrder map[string]int

func NewFlavorOrder(flavors []Flavor) FlavorOrder {
	o := FlavorOrder{"": 0}
	for _, f := range flavors {
		o[f.Name] = f.RAM
	}
	return o
}

// Max returns the bigger of two flavors.
func (o FlavorOrder) Max(a, b string) (string, error) {
	for _, f := range []string{a, b} {
		if _, ok := o[f]; !ok {
			return "", errors.Newf("unknown flavor %q", f)
		}
	}
	if o[b] > o[a] {
		return b, nil
	}
	return a, nil
}

// InstanceParams sizes one kind of instance.
type InstanceParams struct {
	Count  int    `json:"count"`
	Flavor string `json:"flavor"`
	Image  string `json:"image"`
}

// InstancesParams sizes the bench for a set of tests.
type InstancesParams struct {
	Clients InstanceParams `json:"clients"`
	Servers InstanceParams `json:"servers"`
}

// Names are the base names of client and server instances.
type Names struct {
	Client string
	Server string
}

func NewNames(base string) Names {
	return Names{Client: base + "-client", Server: base + "-server"}
}

// Specs of the clients and servers batches. A batch of one still gets the
// -1 suffix so its host name matches the inventory.
func Specs(p InstancesParams, names Names) []Spec {
	clients := Spec{Name: names.Client, Image: p.Clients.Image, Flavor: p.Clients.Flavor, Count: p.Clients.Count, Networks: []string{DefaultNetwork}}
	servers := Spec{Name: names.Server, Image: p.Servers.Image, Flavor: p.Servers.Flavor, Count: p.Servers.Count, Networks: []string{DefaultNetwork}}
	specs := []Spec{clients, servers}
	for i := range specs {
		if specs[i].Count == 1 {
			specs[i].Name += "-1"
		}
	}
	return specs
}

// Provisioner brings instance batches to the wanted state.
type Provisioner struct {
	Compute      Compute
	PollInterval time.Duration
	BootTimeout  time.Duration
}

func (p *Provisioner) servers(ctx context.Context, specs []Spec) (map[string]*Server, bool, error) {
	found := map[string]*Server{}
	complete := true
	for _, spec := range specs {
		for _, name := range spec.Names() {
			s, err := p.Compute.Server(ctx, name)
			if err != nil {
				return nil, false, errors.Wrapf(err, "get instance %s", name)
			}
			if s == nil {
				complete = false
				continue
			}
			found[name] = s
		}
	}
	return found, complete, nil
}

// Delete removes every existing instance of specs.
func (p *Provisioner) Delete(ctx context.Context, specs []Spec) error {
	found, _, err := p.servers(ctx, specs)
	if err != nil {
		return err
	}
	for name, s := range found {
		logf.Log.Info("Deleting instance", "name", name)
		if err := p.Compute.DeleteServer(ctx, s); err != nil {
			return errors.Wrapf(err, "delete instance %s", name)
		}
	}
	return nil
}

func (p *Provisioner) create(ctx context.Context, specs []Spec) error {
	for _, spec := range specs {
		for _, name := range spec.Names() {
			logf.Log.Info("Creating instance", "name", name, "image", spec.Image, "flavor", spec.Flavor)
			if err := p.Compute.CreateServer(ctx, name, spec); err != nil {
				return errors.Wrapf(err, "create instance %s", name)
			}
		}
	}
	return nil
}

func (p *Provisioner) recreate(ctx context.Context, specs []Spec) error {
	if err := p.Delete(ctx, specs); err != nil {
		return err
	}
	return p.create(ctx, specs)
}

func (p *Provisioner) rebuild(ctx context.Context, specs []Spec, found map[string]*Server) error {
	for _, spec := range specs {
		for _, name := range spec.Names() {
			logf.Log.Info("Rebuilding instance", "name", name, "image", spec.Image)
			if err := p.Compute.RebuildServer(ctx, found[name], spec); err != nil {
				return errors.Wrapf(err, "rebuild instance %s", name)
			}
		}
	}
	return nil
}

// Create makes every instance of specs exist freshly booted. A batch with a
// missing instance is recreated. A full one is rebuilt, and recreated when
// the rebuild fails. It returns once all instances are active.
func (p *Provisioner) Create(ctx context.Context, specs []Spec) error {
	found, complete, err := p.servers(ctx, specs)
	if err != nil {
		return err
	}
	if !complete {
		err = p.recreate(ctx, specs)
	} else if rerr := p.rebuild(ctx, specs, found); rerr != nil {
		logf.Log.Info("Rebuild failed, recreating instances", "error", rerr)
		err = p.recreate(ctx, specs)
	}
	if err != nil {
		return err
	}
	return p.WaitAvailable(ctx, specs)
}

// WaitAvailable polls until every instance of specs is active.
func (p *Provisioner) WaitAvailable(ctx context.Context, specs []Spec) error {
	interval, timeout := p.PollInterval, p.BootTimeout
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		found, complete, err := p.servers(ctx, specs)
		if err != nil {
			return err
		}
		var pending []string
		for name, s := range found {
			if s.Status != StatusActive {
				pending = append(pending, name)
			}
		}
		if complete && len(pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Newf("not all instances available: pending %v", pending)
		case <-time.After(interval):
		}
	}
}
