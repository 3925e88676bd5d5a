// Package testcfg loads the test_NAME.cfg files describing what a test
// needs from the bench. A config is a JSON text/template rendered with the
// bench clients and servers plus the params of the config itself.
package testcfg

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/cockroachdb/errors"

	"github.com/kis8ya/elliptics-qa/ansible"
	"github.com/kis8ya/elliptics-qa/cloud"
	"github.com/kis8ya/elliptics-qa/elliptics"
)

const (
	filePrefix = "test_"
	fileSuffix = ".cfg"

	ClientPort = 1083
	ServerPort = 1025
)

type Client struct {
	Host string
	Port int
}

type ClientsEnv struct {
	Count  int    `json:"count"`
	Flavor string `json:"flavor"`
}

type ServersEnv struct {
	CountPerGroup []int  `json:"count_per_group"`
	Flavor        string `json:"flavor"`
}

// Total number of servers over all groups.
func (s ServersEnv) Total() int {
	n := 0
	for _, c := range s.CountPerGroup {
		n += c
	}
	return n
}

type Env struct {
	Clients    ClientsEnv `json:"clients"`
	Servers    ServersEnv `json:"servers"`
	PrepareEnv string     `json:"prepare_env,omitempty"`
}

type Config struct {
	Name    string                 `json:"-"`
	Tags    []string               `json:"tags"`
	Dir     string                 `json:"dir"`
	Env     Env                    `json:"test_env_cfg"`
	Params  map[string]interface{} `json:"params"`
	Addopts string                 `json:"addopts"`
}

// HasTag reports whether the config carries any of tags.
func (c *Config) HasTag(tags []string) bool {
	for _, t := range c.Tags {
		for _, want := range tags {
			if t == want {
				return true
			}
		}
	}
	return false
}

// Bench names the instances configs are rendered for.
type Bench struct {
	Names  cloud.Names
	Domain string
}

func (b Bench) clients(count int) []Client {
	var res []Client
	for _, n := range ansible.HostNames(b.Names.Client, count) {
		res = append(res, Client{Host: ansible.FQDN(n, b.Domain), Port: ClientPort})
	}
	return res
}

// Servers of the bench for a per group layout, groups numbered from 1.
func (b Bench) Servers(countPerGroup []int) []elliptics.Node {
	total := 0
	for _, c := range countPerGroup {
		total += c
	}
	names := ansible.HostNames(b.Names.Server, total)
	var res []elliptics.Node
	for g, c := range countPerGroup {
		for _, n := range names[:c] {
			res = append(res, elliptics.Node{Host: ansible.FQDN(n, b.Domain), Port: ServerPort, Group: g + 1})
		}
		names = names[c:]
	}
	return res
}

// NameOf returns the test name of a config file or false when it is not one.
func NameOf(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix), true
}

// Render parses the raw config for its params and bench layout, then
// renders it as a template with them.
func Render(name string, raw []byte, bench Bench) (*Config, error) {
	var pre Config
	if err := json.Unmarshal(raw, &pre); err != nil {
		return nil, errors.Wrapf(err, "parse test config %s", name)
	}
	vars := map[string]interface{}{}
	for k, v := range pre.Params {
		vars[k] = v
	}
	vars["clients"] = bench.clients(pre.Env.Clients.Count)
	vars["servers"] = bench.Servers(pre.Env.Servers.CountPerGroup)

	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "parse template of %s", name)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, vars); err != nil {
		return nil, errors.Wrapf(err, "render %s", name)
	}
	cfg := &Config{}
	if err := json.Unmarshal(out.Bytes(), cfg); err != nil {
		return nil, errors.Wrapf(err, "parse rendered %s", name)
	}
	cfg.Name = name
	return cfg, nil
}

func Load(path string, bench Bench) (*Config, error) {
	name, ok := NameOf(path)
	if !ok {
		return nil, errors.Newf("%s is not a test config", path)
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read test config")
	}
	return Render(name, raw, bench)
}

// Collect loads the configs under dir carrying any of tags, by test name.
func Collect(dir string, tags []string, bench Bench) (map[string]*Config, error) {
	tests := map[string]*Config{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if _, ok := NameOf(path); !ok {
			return nil
		}
		cfg, err := Load(path, bench)
		if err != nil {
			return err
		}
		if cfg.HasTag(tags) {
			tests[cfg.Name] = cfg
		}
		return nil
	})
	return tests, err
}

// InstancesParams sizes the bench for running all tests: the biggest
// flavor and the largest count of clients and servers any test asks for.
func InstancesParams(tests map[string]*Config, order cloud.FlavorOrder, image string) (cloud.InstancesParams, error) {
	p := cloud.InstancesParams{
		Clients: cloud.InstanceParams{Image: image},
		Servers: cloud.InstanceParams{Image: image},
	}
	var err error
	for _, t := range tests {
		if p.Clients.Flavor, err = order.Max(p.Clients.Flavor, t.Env.Clients.Flavor); err != nil {
			return p, errors.Wrapf(err, "test %s", t.Name)
		}
		if p.Servers.Flavor, err = order.Max(p.Servers.Flavor, t.Env.Servers.Flavor); err != nil {
			return p, errors.Wrapf(err, "test %s", t.Name)
		}
		if t.Env.Clients.Count > p.Clients.Count {
			p.Clients.Count = t.Env.Clients.Count
		}
		if n := t.Env.Servers.Total(); n > p.Servers.Count {
			p.Servers.Count = n
		}
	}
	return p, nil
}
