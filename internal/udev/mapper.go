// SPDX-License-Identifier: MIT

package udev

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// usbPortPathRegex is pre-compiled at package level to avoid recompiling on every call.
// Pattern: bus-port or bus-port.subport.subport...
// Examples: "1-1", "1-1.4", "2-3.1.2"
var usbPortPathRegex = regexp.MustCompile(`^[0-9]+-[0-9]+(\.[0-9]+)*$`)

// USBPortInfo describes the physical USB port a sound card is plugged
// into, resolved from sysfs so a udev rule can be generated without an
// operator hand-typing the port path off `lsusb -t` output.
type USBPortInfo struct {
	PortPath string // Physical USB port (e.g., "1-1.4")
	Product  string // Product name (if available)
	Serial   string // Serial number (if available)
}

// ResolvePortInfo looks up the physical USB port for the device
// identified by busNum/devNum (as reported by `lsusb`) and returns it
// as a USBPortInfo ready to feed into GenerateRuleWithValidation. It is
// the primary entry point the `guardian devices udev-rule` command uses
// when an operator supplies --bus/--dev instead of typing --port by
// hand.
func ResolvePortInfo(sysfsPath string, busNum, devNum int) (USBPortInfo, error) {
	portPath, product, serial, err := GetUSBPhysicalPort(sysfsPath, busNum, devNum)
	if err != nil {
		return USBPortInfo{}, err
	}
	return USBPortInfo{PortPath: portPath, Product: product, Serial: serial}, nil
}

// GetUSBPhysicalPort detects the physical USB port for a device.
//
// Guardian needs this to disambiguate multiple identical USB sound
// cards plugged into the same host: bus/device numbers are reassigned
// on every reconnect, but the physical port path is stable, so the
// generated udev symlink is named after the port (the rule itself
// matches the bus/device numbers seen at generation time). A naive
// approach that guesses the sysfs path from bus/dev numbers can match
// the wrong node (e.g. a hub instead of the device hanging off it), so
// this scans every sysfs USB port entry and checks busnum/devnum itself.
//
// Parameters:
//   - sysfsPath: Path to /sys/bus/usb/devices (or testdata equivalent)
//   - busNum: USB bus number (from lsusb or /sys/.../busnum)
//   - devNum: USB device number (from lsusb or /sys/.../devnum)
//
// Returns:
//   - portPath: Physical port path (e.g., "1-1.4")
//   - product: Product name (may be empty)
//   - serial: Serial number (may be empty)
//   - error: if device not found or parameters invalid
//
// Example:
//
//	port, product, serial, err := GetUSBPhysicalPort("/sys/bus/usb/devices", 1, 5)
//	// port = "1-1.4", product = "Yeti Stereo Microphone", serial = "REV8_12345"
func GetUSBPhysicalPort(sysfsPath string, busNum, devNum int) (portPath, product, serial string, err error) {
	if busNum < 0 || devNum < 0 {
		return "", "", "", fmt.Errorf("invalid bus/dev number: bus=%d dev=%d", busNum, devNum)
	}

	if _, err := os.Stat(sysfsPath); os.IsNotExist(err) {
		return "", "", "", fmt.Errorf("sysfs path not found: %s", sysfsPath)
	}

	entries, err := os.ReadDir(sysfsPath)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to read sysfs directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		basename := entry.Name()
		if !IsValidUSBPortPath(basename) {
			continue
		}

		devicePath := filepath.Join(sysfsPath, basename)

		deviceBusNum, deviceDevNum, err := readBusDevNum(devicePath)
		if err != nil {
			continue // Skip devices we can't read
		}

		if deviceBusNum == busNum && deviceDevNum == devNum {
			portPath = basename

			// #nosec G304 - Reading from /sys/bus/usb (kernel filesystem)
			if productBytes, err := os.ReadFile(filepath.Join(devicePath, "product")); err == nil {
				product = strings.TrimSpace(string(productBytes))
			}

			// #nosec G304 - Reading from /sys/bus/usb (kernel filesystem)
			if serialBytes, err := os.ReadFile(filepath.Join(devicePath, "serial")); err == nil {
				serial = strings.TrimSpace(string(serialBytes))
			}

			return portPath, product, serial, nil
		}
	}

	return "", "", "", fmt.Errorf("USB device not found: bus=%d dev=%d", busNum, devNum)
}

// IsValidUSBPortPath checks if a string matches USB port path pattern.
//
// Valid patterns: "1-1", "1-1.4", "2-3.1.2", etc.
// Pattern: ^[0-9]+-[0-9]+(\.[0-9]+)*$
func IsValidUSBPortPath(path string) bool {
	return usbPortPathRegex.MatchString(path)
}

// SafeBase10 converts a string to base-10 integer, handling leading zeros.
//
// sysfs busnum/devnum files are zero-padded (e.g. "003"), which Go's
// strconv would otherwise risk treating as an octal literal in other
// contexts; this always interprets the digits as base 10.
//
// Example:
//
//	SafeBase10("005") → 5, nil
//	SafeBase10("08")  → 8, nil
//	SafeBase10("abc") → 0, error
func SafeBase10(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}

	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}

	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}

	if val < 0 {
		return 0, fmt.Errorf("negative numbers not allowed: %d", val)
	}

	return val, nil
}

// readBusDevNum reads busnum and devnum from a sysfs device directory.
func readBusDevNum(devicePath string) (busNum, devNum int, err error) {
	// #nosec G304 - Reading from /sys/bus/usb (kernel filesystem)
	busBytes, err := os.ReadFile(filepath.Join(devicePath, "busnum"))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read busnum: %w", err)
	}

	busNum, err = SafeBase10(string(busBytes))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse busnum: %w", err)
	}

	// #nosec G304 - Reading from /sys/bus/usb (kernel filesystem)
	devBytes, err := os.ReadFile(filepath.Join(devicePath, "devnum"))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read devnum: %w", err)
	}

	devNum, err = SafeBase10(string(devBytes))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse devnum: %w", err)
	}

	return busNum, devNum, nil
}
