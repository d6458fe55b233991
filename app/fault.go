package app

import (
	"fmt"
	"strings"

	"starlet/kernel"
)

const maxFaults = 8

// installFaultHandler logs crashed threads with their Go stack and keeps the
// latest few for the monitor.
func (s *System) installFaultHandler() {
	s.k.SetFaultHandler(func(info kernel.FaultInfo) {
		if l := s.h.Logger(); l != nil {
			l.WriteLineString(fmt.Sprintf("fault: tid=%d pid=%d panic=%v", info.Thread, info.Process, info.Value))
			for _, line := range strings.Split(string(info.Stack), "\n") {
				if line == "" {
					continue
				}
				l.WriteLineString(line)
			}
		}
		if len(s.faults) == maxFaults {
			copy(s.faults, s.faults[1:])
			s.faults = s.faults[:maxFaults-1]
		}
		info.Stack = nil
		s.faults = append(s.faults, info)
	})
}

// Faults returns the most recent thread faults, oldest first.
func (s *System) Faults() []kernel.FaultInfo {
	return append([]kernel.FaultInfo(nil), s.faults...)
}
