package cloud

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/images"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"
)

// OpenStack is Compute on an OpenStack cloud.
type OpenStack struct {
	compute *gophercloud.ServiceClient
	network *gophercloud.ServiceClient
}

// NewOpenStack authenticates with the OS_* environment variables.
func NewOpenStack() (*OpenStack, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, errors.Wrap(err, "openstack credentials")
	}
	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, errors.Wrap(err, "openstack authentication")
	}
	eo := gophercloud.EndpointOpts{Region: os.Getenv("OS_REGION_NAME")}
	compute, err := openstack.NewComputeV2(provider, eo)
	if err != nil {
		return nil, errors.Wrap(err, "compute endpoint")
	}
	network, err := openstack.NewNetworkV2(provider, eo)
	if err != nil {
		return nil, errors.Wrap(err, "network endpoint")
	}
	return &OpenStack{compute: compute, network: network}, nil
}

func (o *OpenStack) Flavors(ctx context.Context) ([]Flavor, error) {
	pages, err := flavors.ListDetail(o.compute, flavors.ListOpts{}).AllPages()
	if err != nil {
		return nil, errors.Wrap(err, "list flavors")
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return nil, errors.Wrap(err, "list flavors")
	}
	res := make([]Flavor, 0, len(all))
	for _, f := range all {
		res = append(res, Flavor{Name: f.Name, RAM: f.RAM})
	}
	return res, nil
}

func (o *OpenStack) Server(ctx context.Context, name string) (*Server, error) {
	pages, err := servers.List(o.compute, servers.ListOpts{Name: "^" + name + "$"}).AllPages()
	if err != nil {
		return nil, err
	}
	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.Name == name {
			return &Server{ID: s.ID, Name: s.Name, Status: s.Status}, nil
		}
	}
	return nil, nil
}

func (o *OpenStack) imageID(name string) (string, error) {
	pages, err := images.ListDetail(o.compute, images.ListOpts{Name: name}).AllPages()
	if err != nil {
		return "", errors.Wrap(err, "list images")
	}
	all, err := images.ExtractImages(pages)
	if err != nil {
		return "", errors.Wrap(err, "list images")
	}
	for _, i := range all {
		if i.Name == name {
			return i.ID, nil
		}
	}
	return "", errors.Newf("no image %q", name)
}

func (o *OpenStack) flavorID(name string) (string, error) {
	pages, err := flavors.ListDetail(o.compute, flavors.ListOpts{}).AllPages()
	if err != nil {
		return "", errors.Wrap(err, "list flavors")
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return "", errors.Wrap(err, "list flavors")
	}
	for _, f := range all {
		if f.Name == name {
			return f.ID, nil
		}
	}
	return "", errors.Newf("no flavor %q", name)
}

func (o *OpenStack) networks(labels []string) ([]servers.Network, error) {
	var res []servers.Network
	for _, label := range labels {
		pages, err := networks.List(o.network, networks.ListOpts{Name: label}).AllPages()
		if err != nil {
			return nil, errors.Wrap(err, "list networks")
		}
		all, err := networks.ExtractNetworks(pages)
		if err != nil {
			return nil, errors.Wrap(err, "list networks")
		}
		if len(all) == 0 {
			return nil, errors.Newf("no network %q", label)
		}
		res = append(res, servers.Network{UUID: all[0].ID})
	}
	return res, nil
}

func (o *OpenStack) CreateServer(ctx context.Context, name string, spec Spec) error {
	image, err := o.imageID(spec.Image)
	if err != nil {
		return err
	}
	flavor, err := o.flavorID(spec.Flavor)
	if err != nil {
		return err
	}
	nets, err := o.networks(spec.Networks)
	if err != nil {
		return err
	}
	_, err = servers.Create(o.compute, servers.CreateOpts{
		Name:      name,
		ImageRef:  image,
		FlavorRef: flavor,
		Networks:  nets,
	}).Extract()
	return err
}

func (o *OpenStack) RebuildServer(ctx context.Context, server *Server, spec Spec) error {
	image, err := o.imageID(spec.Image)
	if err != nil {
		return err
	}
	_, err = servers.Rebuild(o.compute, server.ID, servers.RebuildOpts{ImageRef: image, Name: server.Name}).Extract()
	return err
}

func (o *OpenStack) DeleteServer(ctx context.Context, server *Server) error {
	return servers.Delete(o.compute, server.ID).ExtractErr()
}
