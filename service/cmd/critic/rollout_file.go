package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// rolloutFile is a recorded episode: the first step resets the session and
// every step is evaluated.
type rolloutFile struct {
	Agents []uuid.UUID  `json:"agents,omitempty"` // engine order; empty draws fresh ids
	Steps  []stepRecord `json:"steps"`
}

// stepRecord holds agent × batch × feature arrays.
type stepRecord struct {
	States  [][][]float64 `json:"states"`
	Actions [][][]float64 `json:"actions"`
}

func readRolloutFile(path string) (rolloutFile, error) {
	var rf rolloutFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return rf, err
	}
	if err := json.Unmarshal(raw, &rf); err != nil {
		return rf, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(rf.Steps) == 0 {
		return rf, fmt.Errorf("%s has no steps", path)
	}
	return rf, nil
}

// matrices converts one agent × batch × feature array.
func matrices(what string, in [][][]float64) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(in))
	for i, rows := range in {
		if len(rows) == 0 || len(rows[0]) == 0 {
			return nil, fmt.Errorf("agent %d %s are empty", i, what)
		}
		m := mat.NewDense(len(rows), len(rows[0]), nil)
		for r, row := range rows {
			if len(row) != len(rows[0]) {
				return nil, fmt.Errorf("agent %d %s row %d has %d values, want %d", i, what, r, len(row), len(rows[0]))
			}
			m.SetRow(r, row)
		}
		out[i] = m
	}
	return out, nil
}

func (s stepRecord) matrices() (states, actions []*mat.Dense, err error) {
	if states, err = matrices("states", s.States); err != nil {
		return nil, nil, err
	}
	if actions, err = matrices("actions", s.Actions); err != nil {
		return nil, nil, err
	}
	return states, actions, nil
}
