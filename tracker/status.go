package tracker

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/vantage-agent/vantage/anticheat"
	"github.com/vantage-agent/vantage/internal/config"
	"github.com/vantage-agent/vantage/internal/models"
)

// Status is the agent state snapshot written to the status file so that
// other processes (the status command, a UI shell) can report on a
// running agent.
type Status struct {
	State                State             `json:"state"`
	Session              *models.Session   `json:"session,omitempty"`
	PauseReason          PauseReason       `json:"pause_reason,omitempty"`
	QueueDepth           models.QueueDepth `json:"queue_depth"`
	Activity             anticheat.Score   `json:"activity"`
	ProbeDisabled        bool              `json:"probe_disabled"`
	ScreenshotsSuspended bool              `json:"screenshots_suspended"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// writeStatus persists the current snapshot to the status file. Failures
// only cost staleness of the snapshot, so they are logged and swallowed.
func (t *Tracker) writeStatus() {
	t.mu.Lock()

	s := Status{
		State:       t.state,
		PauseReason: t.pauseReason,
		UpdatedAt:   t.now(),
	}

	if t.sess != nil {
		sess := *t.sess
		s.Session = &sess
	}

	if t.probeGate != nil {
		s.ProbeDisabled = t.probeGate.Disabled()
	}

	if t.shots != nil {
		s.ScreenshotsSuspended = t.shots.Suspended()
	}

	q := t.q
	scorer := t.scorer
	t.mu.Unlock()

	if q != nil {
		s.QueueDepth = q.Depth()
	}

	if scorer != nil {
		s.Activity = scorer.ScoreNow()
	}

	if err := writeStatusFile(&s); err != nil {
		slog.Warn("unable to write status file", slog.Any("error", err))
	}
}

func (t *Tracker) removeStatus() {
	_ = os.Remove(config.StatusFilePath())
}

func writeStatusFile(s *Status) (err error) {
	statusFile, err := os.Create(config.StatusFilePath())
	if err != nil {
		return err
	}

	defer func() {
		ferr := statusFile.Close()
		if ferr != nil {
			err = ferr
		}
	}()

	b, err := json.Marshal(s)
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(statusFile)

	_, err = writer.Write(b)
	if err != nil {
		return err
	}

	return writer.Flush()
}

// ReadStatus loads the snapshot left by a running agent. A missing file
// means no agent is running.
func ReadStatus() (*Status, error) {
	b, err := os.ReadFile(config.StatusFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var s Status

	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}

	return &s, nil
}
