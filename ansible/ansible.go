// Package ansible writes inventories and group vars for the bench and runs
// playbooks against them.
package ansible

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// HostNames returns the instance names of a batch: base-1 ... base-count.
func HostNames(base string, count int) []string {
	names := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		names = append(names, fmt.Sprintf("%s-%d", base, i))
	}
	return names
}

// FQDN of an instance in domain.
func FQDN(name, domain string) string {
	if domain == "" {
		return name
	}
	return name + "." + domain
}

// GroupNames are the inventory groups of a test.
type GroupNames struct {
	Clients string
	Servers string
	Test    string
}

func Groups(name string) GroupNames {
	return GroupNames{Clients: name + "-clients", Servers: name + "-servers", Test: name}
}

// Inventory of a test: its clients and its servers split by elliptics group.
type Inventory struct {
	Groups  GroupNames
	Clients []string
	Servers [][]string
}

// NewInventory lays out the instances of the bench for a test. Servers are
// handed out to the groups in instance order.
func NewInventory(groups GroupNames, clientsCount int, serversPerGroup []int, clientBase, serverBase, domain string) Inventory {
	inv := Inventory{Groups: groups}
	for _, n := range HostNames(clientBase, clientsCount) {
		inv.Clients = append(inv.Clients, FQDN(n, domain))
	}
	total := 0
	for _, c := range serversPerGroup {
		total += c
	}
	servers := HostNames(serverBase, total)
	for _, c := range serversPerGroup {
		group := make([]string, 0, c)
		for _, n := range servers[:c] {
			group = append(group, FQDN(n, domain))
		}
		servers = servers[c:]
		inv.Servers = append(inv.Servers, group)
	}
	return inv
}

func (inv Inventory) groupName(i int) string {
	return fmt.Sprintf("%s-group-%d", inv.Groups.Servers, i+1)
}

// Render returns the inventory in ini format.
func (inv Inventory) Render() string {
	var b strings.Builder
	section := func(name string, lines []string) {
		fmt.Fprintf(&b, "[%s]\n", name)
		for _, l := range lines {
			fmt.Fprintln(&b, l)
		}
		fmt.Fprintln(&b)
	}
	section(inv.Groups.Clients, inv.Clients)
	var groups []string
	for i, hosts := range inv.Servers {
		section(inv.groupName(i), hosts)
		groups = append(groups, inv.groupName(i))
	}
	section(inv.Groups.Servers+":children", groups)
	section(inv.Groups.Test+":children", []string{inv.Groups.Clients, inv.Groups.Servers})
	return b.String()
}

func (inv Inventory) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "inventory dir")
	}
	return errors.Wrap(ioutil.WriteFile(path, []byte(inv.Render()), 0644), "write inventory")
}

// Vars are group variables. They are stored as JSON or, for .yml and
// .yaml files, as YAML.
type Vars map[string]interface{}

func isYAML(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yml" || ext == ".yaml"
}

func ReadVars(path string) (Vars, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars := Vars{}
	if isYAML(path) {
		err = yaml.Unmarshal(b, &vars)
	} else {
		err = json.Unmarshal(b, &vars)
	}
	return vars, errors.Wrapf(err, "parse vars %s", path)
}

// SetVars replaces the vars file with params.
func SetVars(path string, params Vars) error {
	var (
		b   []byte
		err error
	)
	if isYAML(path) {
		b, err = yaml.Marshal(params)
	} else {
		b, err = json.MarshalIndent(params, "", "    ")
	}
	if err != nil {
		return errors.Wrap(err, "marshal vars")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "vars dir")
	}
	return errors.Wrap(ioutil.WriteFile(path, b, 0644), "write vars")
}

// UpdateVars merges params over the existing vars file.
func UpdateVars(path string, params Vars) error {
	vars, err := ReadVars(path)
	if os.IsNotExist(errors.UnwrapAll(err)) {
		vars, err = Vars{}, nil
	}
	if err != nil {
		return err
	}
	for k, v := range params {
		vars[k] = v
	}
	return SetVars(path, vars)
}

// Runner starts a command and waits for it.
type Runner interface {
	Run(ctx context.Context, args []string) error
}

type execRunner struct {
	output io.Writer
}

func (r execRunner) Run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = r.output
	cmd.Stderr = r.output
	return cmd.Run()
}

// ExecRunner runs commands as child processes writing to output.
func ExecRunner(output io.Writer) Runner {
	return execRunner{output: output}
}

// Dir is an ansible directory: playbooks, inventories and group_vars.
type Dir struct {
	Path   string
	Runner Runner
}

func (d *Dir) Abs(name string) string {
	return filepath.Join(d.Path, name)
}

func (d *Dir) InventoryPath(name string) string {
	return d.Abs(name + ".hosts")
}

// VarsPath of a group in format ext ("json" or "yml").
func (d *Dir) VarsPath(group, ext string) string {
	return d.Abs(filepath.Join("group_vars", group+"."+ext))
}

// RunPlaybook runs ansible-playbook -i inventory playbook.yml.
func (d *Dir) RunPlaybook(ctx context.Context, playbook, inventory string) error {
	if !strings.HasSuffix(playbook, ".yml") {
		playbook += ".yml"
	}
	args := []string{"ansible-playbook", "-i", inventory, playbook}
	logf.Log.Info("Running playbook", "cmd", strings.Join(args, " "))
	return errors.Wrapf(d.Runner.Run(ctx, args), "playbook %s", filepath.Base(playbook))
}
