package runner

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// processTree is the OS view the runner needs to act on a whole subtree.
type processTree interface {
	Exists(pid int) bool
	Descendants(pid int) ([]int, error)
	Suspend(pid int) error
	Resume(pid int) error
	Kill(pid int) error
}

type osTree struct{}

func (osTree) Exists(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Descendants lists every process below pid, parents before children. Only a
// failure to look up pid itself is an error; branches that exit mid-walk are
// skipped.
func (osTree) Descendants(pid int) ([]int, error) {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("lookup process %d: %w", pid, err)
	}

	var out []int
	seen := map[int32]bool{root.Pid: true}
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		children, err := p.Children()
		if err != nil {
			if p == root && !errors.Is(err, process.ErrorNoChildren) && !errors.Is(err, process.ErrorProcessNotRunning) {
				return nil, fmt.Errorf("list children of %d: %w", pid, err)
			}
			continue
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, int(c.Pid))
			queue = append(queue, c)
		}
	}
	return out, nil
}

func (t osTree) Suspend(pid int) error {
	return t.apply(pid, (*process.Process).Suspend)
}

func (t osTree) Resume(pid int) error {
	return t.apply(pid, (*process.Process).Resume)
}

func (t osTree) Kill(pid int) error {
	return t.apply(pid, (*process.Process).Kill)
}

func (t osTree) apply(pid int, fn func(*process.Process) error) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	if err := fn(p); err != nil {
		// the process may have exited between lookup and signal
		if !t.Exists(pid) {
			return nil
		}
		return fmt.Errorf("process %d: %w", pid, err)
	}
	return nil
}
