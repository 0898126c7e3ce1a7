package supervisor

import (
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// stdioConn adapts a child process's stdin/stdout pipes into a single
// io.ReadWriteCloser, the shape sourcegraph/jsonrpc2 streams over.
type stdioConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func spawnStdio(command string, args []string) (*stdioConn, error) {
	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "opening downstream stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "opening downstream stdout")
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "starting downstream process")
	}

	return &stdioConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (c *stdioConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *stdioConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *stdioConn) Close() error {
	c.stdin.Close()
	c.stdout.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}
