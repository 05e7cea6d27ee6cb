// Package ports answers "who owns this TCP port" and can reclaim a port by
// terminating its owner.
package ports

import (
	"fmt"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// Status describes a single port's occupancy.
type Status struct {
	Port        uint16  `json:"port"`
	InUse       bool    `json:"in_use"`
	Pid         *int32  `json:"pid,omitempty"`
	ProcessName *string `json:"process_name,omitempty"`
}

// Check reports whether port has a TCP listener and, when determinable, the
// owning process. Lookup failures degrade to "not in use" rather than
// blocking the wizard.
func Check(port uint16) Status {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		log.Debugf("port check: listing tcp connections failed: %v", err)
		return Status{Port: port}
	}
	for _, conn := range conns {
		if conn.Status != "LISTEN" || conn.Laddr.Port != uint32(port) {
			continue
		}
		status := Status{Port: port, InUse: true}
		if conn.Pid > 0 {
			pid := conn.Pid
			status.Pid = &pid
			if proc, err := process.NewProcess(pid); err == nil {
				if name, err := proc.Name(); err == nil {
					status.ProcessName = &name
				}
			}
		}
		return status
	}
	return Status{Port: port}
}

// Release terminates whatever process is listening on port and waits for
// the socket table to settle.
func Release(port uint16) (string, error) {
	status := Check(port)
	if !status.InUse {
		return fmt.Sprintf("Port %d is already free.", port), nil
	}
	if status.Pid == nil {
		return "", fmt.Errorf("port %d is in use but the owning PID cannot be resolved", port)
	}
	pid := *status.Pid

	if err := KillTree(pid); err != nil {
		return "", fmt.Errorf("stop process pid %d for port %d: %w", pid, port, err)
	}

	for i := 0; i < 8; i++ {
		time.Sleep(250 * time.Millisecond)
		if !Check(port).InUse {
			return fmt.Sprintf("Released port %d by terminating PID %d.", port, pid), nil
		}
	}
	return "", fmt.Errorf("port %d is still in use after terminating PID %d", port, pid)
}

// KillTree terminates pid and its children, escalating from a graceful
// terminate to a hard kill.
func KillTree(pid int32) error {
	proc, err := process.NewProcess(pid)
	if err != nil {
		// Already gone.
		return nil
	}

	if children, err := proc.Children(); err == nil {
		for _, child := range children {
			_ = KillTree(child.Pid)
		}
	}

	if err := proc.Terminate(); err == nil {
		for i := 0; i < 10; i++ {
			if running, _ := proc.IsRunning(); !running {
				return nil
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
	if err := proc.Kill(); err != nil {
		if running, _ := proc.IsRunning(); running {
			return fmt.Errorf("kill pid %d: %w", pid, err)
		}
	}
	return nil
}
