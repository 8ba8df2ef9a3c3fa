// Package recovery persists per-run checkpoints so an interrupted run can be
// resumed with a synthesized continuation message.
package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/loomrun/loom/pkg/models"
)

// Manager stores one JSON file per run_id under a directory.
type Manager struct {
	directory string
}

// New builds a Manager rooted at directory, creating it if necessary.
func New(directory string) (*Manager, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("create recovery directory: %w", err)
	}
	return &Manager{directory: directory}, nil
}

func (m *Manager) pathFor(runID string) string {
	return filepath.Join(m.directory, runID+".json")
}

// Save atomically persists a checkpoint, stamping UpdatedAt. Writes go to a
// temp file in the same directory first, then rename, so a crash mid-write
// never leaves a partially-written checkpoint visible to Load.
func (m *Manager) Save(checkpoint models.RunCheckpoint) error {
	checkpoint.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	target := m.pathFor(checkpoint.RunID)
	tmp, err := os.CreateTemp(m.directory, ".tmp-"+checkpoint.RunID+"-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

// Load reads a checkpoint by run_id. A missing file or malformed JSON
// returns (nil, nil): there is simply nothing to resume from.
func (m *Manager) Load(runID string) (*models.RunCheckpoint, error) {
	data, err := os.ReadFile(m.pathFor(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var checkpoint models.RunCheckpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, nil
	}
	return &checkpoint, nil
}

// MarkCompleted removes a run's checkpoint file, if present.
func (m *Manager) MarkCompleted(runID string) error {
	err := os.Remove(m.pathFor(runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint file: %w", err)
	}
	return nil
}

// ListActive returns up to limit checkpoints, most recently updated first.
func (m *Manager) ListActive(limit int) ([]models.RunCheckpoint, error) {
	entries, err := os.ReadDir(m.directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read recovery directory: %w", err)
	}

	type withModTime struct {
		checkpoint models.RunCheckpoint
		modTime    time.Time
	}
	var all []withModTime
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.directory, e.Name()))
		if err != nil {
			continue
		}
		var checkpoint models.RunCheckpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			continue
		}
		all = append(all, withModTime{checkpoint: checkpoint, modTime: info.ModTime()})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].modTime.After(all[j].modTime) })

	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]models.RunCheckpoint, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, all[i].checkpoint)
	}
	return out, nil
}

// BuildResumeMessage loads the checkpoint for runID and, if present,
// synthesizes an InboundMessage-shaped resume request carrying the
// recovery metadata the agent loop uses to re-enter the run at the last
// known stage.
func (m *Manager) BuildResumeMessage(runID string) (*models.InboundMessage, error) {
	checkpoint, err := m.Load(runID)
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, nil
	}

	content := fmt.Sprintf(
		"Recovery resume: continue from interrupted run. run_id=%s stage=%s iteration=%d.\nOriginal user request: %s\nContinue execution safely from the last known state.",
		checkpoint.RunID, checkpoint.Stage, checkpoint.Iteration, checkpoint.UserMessage,
	)

	return &models.InboundMessage{
		Channel:  checkpoint.Channel,
		ChatID:   checkpoint.ChatID,
		Content:  content,
		UserID:   checkpoint.UserID,
		UserName: checkpoint.UserName,
		Metadata: map[string]any{
			"recovery_resume":    true,
			"recovery_run_id":    checkpoint.RunID,
			"recovery_stage":     string(checkpoint.Stage),
			"recovery_iteration": checkpoint.Iteration,
		},
	}, nil
}
