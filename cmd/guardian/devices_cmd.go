// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/guardian-io/guardian/internal/udev"
)

func runDevicesCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printDevicesUsage()
		return 0
	}

	switch args[0] {
	case "udev-rule":
		return runDevicesUdevRule(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n\n", args[0])
		printDevicesUsage()
		return 2
	}
}

func printDevicesUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  guardian devices udev-rule --port=1-1.4 --bus=1 --dev=5 [--reload] [--path=FILE]")
	fmt.Fprintln(os.Stderr, "  guardian devices udev-rule --bus=1 --dev=5 [--sysfs=DIR] [--reload] [--path=FILE]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Pins a USB sound card to a stable /dev/snd/by-usb-port/<port> name,")
	fmt.Fprintln(os.Stderr, "surviving reboots and renumbering of other USB devices. Find the bus")
	fmt.Fprintln(os.Stderr, "and device number for a card with `lsusb`; --port is then resolved")
	fmt.Fprintln(os.Stderr, "automatically from sysfs, or can be supplied directly to skip that lookup.")
	fmt.Fprintln(os.Stderr, "--path overrides the default system rules location, mainly for testing.")
}

const defaultUSBSysfsPath = "/sys/bus/usb/devices"

func runDevicesUdevRule(args []string) int {
	var port string
	var bus, dev int
	var reload bool
	path := udev.RulesFilePath
	sysfsPath := defaultUSBSysfsPath
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "--port="):
			port = strings.TrimPrefix(a, "--port=")
		case strings.HasPrefix(a, "--bus="):
			bus, _ = strconv.Atoi(strings.TrimPrefix(a, "--bus="))
		case strings.HasPrefix(a, "--dev="):
			dev, _ = strconv.Atoi(strings.TrimPrefix(a, "--dev="))
		case strings.HasPrefix(a, "--path="):
			path = strings.TrimPrefix(a, "--path=")
		case strings.HasPrefix(a, "--sysfs="):
			sysfsPath = strings.TrimPrefix(a, "--sysfs=")
		case a == "--reload":
			reload = true
		}
	}

	if port == "" {
		info, err := udev.ResolvePortInfo(sysfsPath, bus, dev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "guardian: resolve USB port: %v\n", err)
			return 1
		}
		port = info.PortPath
	}

	rule, err := udev.GenerateRuleWithValidation(port, bus, dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		return 1
	}

	if err := udev.WriteRulesFileToPath([]*udev.DeviceInfo{{PortPath: port, BusNum: bus, DevNum: dev}}, path, reload); err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		return 1
	}

	fmt.Printf("wrote %s:\n  %s\n", path, rule)
	return 0
}
