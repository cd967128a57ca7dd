// SPDX-License-Identifier: MIT

package udev

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// RulesFilePath is the standard system location for udev rules that give
// USB sound cards a symlink named after their physical port. Each rule
// matches the bus/device numbers captured when it was generated, so after
// renumbering it no longer matches until it is regenerated.
const RulesFilePath = "/etc/udev/rules.d/99-usb-soundcards.rules"

// DeviceInfo describes a USB sound card a udev rule should be generated
// for: its physical port plus the bus/device numbers that identify it
// to the kernel at the moment of detection.
type DeviceInfo struct {
	PortPath string
	BusNum   int
	DevNum   int
	Product  string
	Serial   string
}

// GenerateRule renders d as a udev rule line, with no validation of its
// fields.
func (d DeviceInfo) GenerateRule() string {
	return GenerateRule(d.PortPath, d.BusNum, d.DevNum)
}

// GenerateRule renders a udev rule line that symlinks a sound card's
// control device under /dev/snd/by-usb-port/<portPath>, matched by the
// USB bus and device numbers captured for that physical port.
func GenerateRule(portPath string, busNum, devNum int) string {
	return fmt.Sprintf(
		`SUBSYSTEM=="sound", KERNEL=="controlC[0-9]*", ATTRS{busnum}=="%d", ATTRS{devnum}=="%d", SYMLINK+="snd/by-usb-port/%s"`,
		busNum, devNum, portPath,
	)
}

// GenerateRuleWithValidation is GenerateRule with input validation:
// portPath must match the USB port path pattern and both bus/device
// numbers must be positive.
func GenerateRuleWithValidation(portPath string, busNum, devNum int) (string, error) {
	if err := validateRuleInputs(portPath, busNum, devNum); err != nil {
		return "", err
	}
	return GenerateRule(portPath, busNum, devNum), nil
}

func validateRuleInputs(portPath string, busNum, devNum int) error {
	if !IsValidUSBPortPath(portPath) {
		return fmt.Errorf("invalid USB port path: %s", portPath)
	}
	if busNum <= 0 {
		return fmt.Errorf("invalid bus number: %d (must be positive)", busNum)
	}
	if devNum <= 0 {
		return fmt.Errorf("invalid dev number: %d (must be positive)", devNum)
	}
	return nil
}

// GenerateRulesFile renders a complete udev rules file body for devices,
// one rule per line, prefixed by an explanatory header comment.
func GenerateRulesFile(devices []*DeviceInfo) string {
	var b strings.Builder
	b.WriteString("# Persistent naming rules for USB sound cards, keyed to physical USB port.\n")
	b.WriteString("# Managed by guardian; regenerate via `guardian devices udev-rule` rather than editing by hand.\n")
	for _, d := range devices {
		b.WriteString(d.GenerateRule())
		b.WriteString("\n")
	}
	return b.String()
}

// commandRunner abstracts exec.Command for testability.
type commandRunner func(name string, args ...string) ([]byte, error)

func defaultRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput() // #nosec G204 - fixed command, no user input
}

func reloadUdevRulesWith(runner commandRunner) error {
	if out, err := runner("udevadm", "control", "--reload-rules"); err != nil {
		return fmt.Errorf("reload-rules: %w (%s)", err, out)
	}
	if out, err := runner("udevadm", "trigger"); err != nil {
		return fmt.Errorf("trigger: %w (%s)", err, out)
	}
	return nil
}

// WriteRulesFileToPath validates devices, writes the generated rules file
// to path, and optionally reloads udev so the rules take effect without a
// reboot.
func WriteRulesFileToPath(devices []*DeviceInfo, path string, reload bool) error {
	return writeRulesFileToPathWithRunner(devices, path, reload, defaultRunner)
}

func writeRulesFileToPathWithRunner(devices []*DeviceInfo, path string, reload bool, runner commandRunner) error {
	for i, d := range devices {
		if err := validateRuleInputs(d.PortPath, d.BusNum, d.DevNum); err != nil {
			return fmt.Errorf("invalid device %d: %w", i, err)
		}
	}

	content := GenerateRulesFile(devices)
	// #nosec G306 - udev rules must be world-readable
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write rules file: %w", err)
	}

	if reload {
		if err := reloadUdevRulesWith(runner); err != nil {
			return fmt.Errorf("failed to reload udev rules: %w", err)
		}
	}
	return nil
}

// WriteRulesFile writes devices' udev rules to the standard system
// location, requiring root to succeed in practice.
func WriteRulesFile(devices []*DeviceInfo, reload bool) error {
	return WriteRulesFileToPath(devices, RulesFilePath, reload)
}
