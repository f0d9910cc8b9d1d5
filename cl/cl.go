// Package cl defines the boundary between vexcl and the underlying compute
// platform: device enumeration, contexts, memory buffers, kernel compilation
// and in-order command queues.
//
// vexcl itself never talks to accelerator hardware directly; it drives
// whatever Driver implementation is registered. Drivers register themselves
// on import, e.g.:
//
//	import _ "github.com/ananori99/vexcl/cl/clsim"
//
// and the default driver is picked with New, optionally overridden by the
// VEXCL_DRIVER environment variable.
package cl

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Driver gives access to one compute platform implementation: it enumerates
// the available devices and creates contexts over subsets of them.
type Driver interface {
	// Name returns the short name the driver was registered under.
	Name() string

	// Devices enumerates all devices this driver can see, in a stable
	// discovery order.
	Devices() ([]Device, error)

	// NewContext creates a context covering the given devices. All devices
	// must belong to the same platform (same Device.PlatformName).
	NewContext(devices []Device) (Context, error)
}

// Constructor takes a driver-specific config string (possibly empty) and
// returns a Driver.
type Constructor func(config string) (Driver, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a driver constructor under the given name. Call it during package
// initialization of the driver implementation.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// VEXCL_DRIVER is the environment variable naming the default driver
// configuration, in the form "<driver_name>:<driver_config>".
const VEXCL_DRIVER = "VEXCL_DRIVER"

// New returns the default Driver: the VEXCL_DRIVER configuration if set,
// otherwise the first registered driver with an empty configuration.
func New() (Driver, error) {
	if config, found := os.LookupEnv(VEXCL_DRIVER); found {
		return NewWithConfig(config)
	}
	return NewWithConfig("")
}

// NewWithConfig creates a Driver from a configuration string formatted as
// "<driver_name>:<driver_config>". An empty name selects the first
// registered driver.
func NewWithConfig(config string) (Driver, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.New(`no compute drivers registered -- import one, e.g. _ "github.com/ananori99/vexcl/cl/clsim"`)
	}
	driverName := firstRegistered
	driverConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		driverName = config[:idx]
		driverConfig = config[idx+1:]
	} else if config != "" {
		driverName = config
		driverConfig = ""
	}
	constructor, found := registeredConstructors[driverName]
	if !found {
		return nil, errors.Errorf("no compute driver registered under %q (configuration %q)", driverName, config)
	}
	return constructor(driverConfig)
}
