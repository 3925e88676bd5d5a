// Package drivers links the client drivers of a build and checks that a
// configuration names one of them.
//
// The in-memory cluster is always linked. A lab build links the client
// bindings by adding a file to this package guarded by the "elliptics" build
// tag, which blank-imports the package calling
// elliptics.Register("elliptics", ...). The suites and runtests must then be
// built with -tags elliptics.
package drivers

import (
	"github.com/cockroachdb/errors"

	"github.com/kis8ya/elliptics-qa/elliptics"
	"github.com/kis8ya/elliptics-qa/elliptics/ellipticstest"
)

const (
	// Memory is the in-memory cluster driver.
	Memory = ellipticstest.DriverName
	// Bindings is the driver name of the client bindings.
	Bindings = "elliptics"
	// BindingsTag is the build tag linking the client bindings.
	BindingsTag = "elliptics"
)

// Check fails unless a driver is registered under name.
func Check(name string) error {
	for _, d := range elliptics.Drivers() {
		if d == name {
			return nil
		}
	}
	if name == Bindings {
		return errors.Newf("driver %q is not linked into this build (registered: %v): "+
			"add a file with the %q build tag to elliptics/drivers importing the client bindings and build with -tags %s",
			name, elliptics.Drivers(), BindingsTag, BindingsTag)
	}
	return errors.Newf("unknown elliptics driver %q (registered: %v)", name, elliptics.Drivers())
}
