// Package guard marks the process as a test run so the mrpd and worker
// entrypoints never dial real infrastructure. Import it for side effects.
package guard

import "os"

func init() {
	if os.Getenv("MRP_TEST_MODE") == "" {
		_ = os.Setenv("MRP_TEST_MODE", "1")
	}
}
