package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

const psFormat = "{{.Names}}\t{{.State}}"

// Docker drives containers through the docker CLI.
type Docker struct {
	// Binary is the docker executable. Defaults to "docker".
	Binary string
	// CallTimeout bounds each ps/rm call. Zero means no bound.
	CallTimeout time.Duration

	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewDocker creates a docker CLI runtime.
func NewDocker(binary string, callTimeout time.Duration) *Docker {
	if binary == "" {
		binary = "docker"
	}
	d := &Docker{Binary: binary, CallTimeout: callTimeout}
	d.run = d.exec
	return d
}

func (d *Docker) exec(ctx context.Context, args ...string) ([]byte, error) {
	if d.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.CallTimeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("docker %s: %w", args[0], err)
		}
		return nil, fmt.Errorf("docker %s: %w: %s", args[0], err, msg)
	}
	return stdout.Bytes(), nil
}

// Status returns the state of the container with exactly this name.
func (d *Docker) Status(ctx context.Context, name string) (Status, error) {
	out, err := d.run(ctx, "ps", "-a", "--filter", "name=^"+name+"$", "--format", psFormat)
	if err != nil {
		return Absent, err
	}
	for _, h := range parsePS(out) {
		if h.Name == name {
			return h.Status, nil
		}
	}
	return Absent, nil
}

// List returns every container whose name starts with prefix.
func (d *Docker) List(ctx context.Context, prefix string) ([]Handle, error) {
	out, err := d.run(ctx, "ps", "-a", "--filter", "name="+prefix, "--format", psFormat)
	if err != nil {
		return nil, err
	}
	// The name filter is a substring match; keep only true prefix matches.
	var handles []Handle
	for _, h := range parsePS(out) {
		if strings.HasPrefix(h.Name, prefix) {
			handles = append(handles, h)
		}
	}
	return handles, nil
}

// Remove force-removes the container. A missing container is not an error.
func (d *Docker) Remove(ctx context.Context, name string) error {
	_, err := d.run(ctx, "rm", "-f", name)
	if err != nil && isNoSuchContainer(err) {
		return nil
	}
	return err
}

// Command builds `docker run -i` for a fresh container or `docker attach` for
// a running one. Env values are inherited from the process environment of
// the CLI so secrets stay off the command line.
func (d *Docker) Command(spec LaunchSpec) *exec.Cmd {
	if spec.Attach {
		return exec.Command(d.Binary, "attach", spec.Name)
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := []string{"run", "-i", "--name", spec.Name}
	env := os.Environ()
	for _, k := range keys {
		args = append(args, "-e", k)
		env = append(env, k+"="+spec.Env[k])
	}
	args = append(args, spec.Image)

	cmd := exec.Command(d.Binary, args...)
	cmd.Env = env
	return cmd
}

func parsePS(out []byte) []Handle {
	var handles []Handle
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, state, _ := strings.Cut(line, "\t")
		handles = append(handles, Handle{
			Name:   strings.TrimPrefix(strings.TrimSpace(name), "/"),
			Status: ParseStatus(state),
		})
	}
	return handles
}

func isNoSuchContainer(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such container")
}
