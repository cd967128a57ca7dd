// SPDX-License-Identifier: MIT

package config

import (
	"fmt"

	"github.com/google/renameio/v2"
)

// restoreLastGood overwrites the live config file at path with raw,
// the last-known-good serialized configuration, using an atomic
// renamed-temp-file write.
//
// A plain os.WriteFile is safe for a side-by-side timestamped backup
// but not for overwriting the live path a watcher is concurrently
// reading: a partial write there would hand the fsnotify-triggered
// reloader a truncated document. renameio's
// NewPendingFile/CloseAtomicallyReplace guarantees readers only ever
// see the old or the fully-written new content.
func restoreLastGood(path string, raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("no last-known-good configuration to restore")
	}
	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer pf.Cleanup()

	if _, err := pf.Write(raw); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}
