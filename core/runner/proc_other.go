//go:build !unix

package runner

import "os/exec"

// configureProcess keeps the exec.CommandContext default of killing the
// direct child only.
func configureProcess(cmd *exec.Cmd) {}
