// vexclinfo lists the compute devices a driver exposes, optionally
// narrowed by the same filters programs use to build queue sets.
//
// The driver is chosen like in library code: the --driver flag, then the
// VEXCL_DRIVER environment variable, then the first registered driver.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ananori99/vexcl"
	"github.com/ananori99/vexcl/cl"
	_ "github.com/ananori99/vexcl/cl/clsim"
)

var (
	flagDriver   string
	flagName     string
	flagVendor   string
	flagPlatform string
	flagType     string
	flagFP64     bool
	flagMem      string
	flagCount    int
)

var rootCmd = &cobra.Command{
	Use:   "vexclinfo",
	Short: "List compute devices and their properties",
	RunE: func(cmd *cobra.Command, args []string) error {
		driver, err := openDriver()
		if err != nil {
			return err
		}
		filter, err := buildFilter()
		if err != nil {
			return err
		}
		devices, err := vexcl.Devices(driver, filter)
		if err != nil {
			return err
		}
		fmt.Printf("Driver %q: %d device(s) selected\n", driver.Name(), len(devices))
		for i, dev := range devices {
			fp64 := "no"
			if dev.DoublePrecision() {
				fp64 = "yes"
			}
			fmt.Printf("%d. %s\n", i+1, dev.Name())
			fmt.Printf("   Platform:      %s\n", dev.PlatformName())
			fmt.Printf("   Vendor:        %s\n", dev.Vendor())
			fmt.Printf("   Type:          %s\n", dev.Type())
			fmt.Printf("   Global memory: %s\n", humanize.IBytes(dev.GlobalMemory()))
			fmt.Printf("   Compute units: %d\n", dev.ComputeUnits())
			fmt.Printf("   FP64:          %s\n", fp64)
		}
		return nil
	},
}

func openDriver() (cl.Driver, error) {
	if flagDriver != "" {
		return cl.NewWithConfig(flagDriver)
	}
	return cl.New()
}

func buildFilter() (vexcl.Filter, error) {
	filters := []vexcl.Filter{}
	if flagName != "" {
		filters = append(filters, vexcl.Name(flagName))
	}
	if flagVendor != "" {
		filters = append(filters, vexcl.Vendor(flagVendor))
	}
	if flagPlatform != "" {
		filters = append(filters, vexcl.Platform(flagPlatform))
	}
	if flagType != "" {
		t, err := parseDeviceType(flagType)
		if err != nil {
			return nil, err
		}
		filters = append(filters, vexcl.Type(t))
	}
	if flagFP64 {
		filters = append(filters, vexcl.DoublePrecision())
	}
	if flagMem != "" {
		bytes, err := humanize.ParseBytes(flagMem)
		if err != nil {
			return nil, fmt.Errorf("invalid --mem value %q: %w", flagMem, err)
		}
		filters = append(filters, vexcl.MemoryAtLeast(bytes))
	}
	filter := vexcl.Filter(vexcl.Any())
	if len(filters) > 0 {
		filter = vexcl.And(filters...)
	}
	if flagCount > 0 {
		filter = vexcl.And(filter, vexcl.Count(flagCount))
	}
	return filter, nil
}

func parseDeviceType(s string) (cl.DeviceType, error) {
	switch strings.ToLower(s) {
	case "cpu":
		return cl.DeviceTypeCPU, nil
	case "gpu":
		return cl.DeviceTypeGPU, nil
	case "accelerator":
		return cl.DeviceTypeAccelerator, nil
	case "all":
		return cl.DeviceTypeAll, nil
	}
	return 0, fmt.Errorf("unknown device type %q, want cpu, gpu, accelerator or all", s)
}

func main() {
	rootCmd.Flags().StringVar(&flagDriver, "driver", "", "driver to query, optionally with config as name:config")
	rootCmd.Flags().StringVar(&flagName, "name", "", "select devices whose name contains this substring")
	rootCmd.Flags().StringVar(&flagVendor, "vendor", "", "select devices whose vendor contains this substring")
	rootCmd.Flags().StringVar(&flagPlatform, "platform", "", "select devices whose platform contains this substring")
	rootCmd.Flags().StringVar(&flagType, "type", "", "select devices of this type: cpu, gpu, accelerator or all")
	rootCmd.Flags().BoolVar(&flagFP64, "fp64", false, "select only devices with double precision support")
	rootCmd.Flags().StringVar(&flagMem, "mem", "", "select devices with at least this much global memory, e.g. 4GiB")
	rootCmd.Flags().IntVar(&flagCount, "count", 0, "select at most this many devices")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
