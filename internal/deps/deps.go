package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an external program the recorder may invoke.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the outcome of resolving one Requirement (or FFmpeg).
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckBinaries resolves every requirement against PATH. Command is replaced
// by the resolved path when the binary is found.
func CheckBinaries(requirements []Requirement) []Status {
	out := make([]Status, len(requirements))
	for i, req := range requirements {
		out[i] = resolve(req)
	}
	return out
}

func resolve(req Requirement) Status {
	st := Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if st.Command == "" {
		st.Detail = "command not configured"
		return st
	}
	path, err := exec.LookPath(st.Command)
	if err != nil {
		st.Detail = fmt.Sprintf("binary %q not found", st.Command)
		return st
	}
	st.Command = path
	st.Available = true
	return st
}

// Missing filters statuses down to unavailable required dependencies.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, st := range statuses {
		if st.Optional || st.Available {
			continue
		}
		out = append(out, st)
	}
	return out
}
