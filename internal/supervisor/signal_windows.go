//go:build windows

package supervisor

import "os"

// terminate kills the child. Windows cannot deliver a termination signal to
// a console child that does not share our console.
func terminate(p *os.Process) error {
	return p.Kill()
}
