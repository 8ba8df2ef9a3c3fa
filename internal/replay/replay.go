// Package replay offers offline structural verification of a run's event
// log, reexecution of its recorded tool calls for drift detection, and
// verification that a recovery-resumed successor actually continued a run's
// work.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/loomrun/loom/internal/eventstore"
	"github.com/loomrun/loom/internal/failure"
	"github.com/loomrun/loom/internal/policy"
	"github.com/loomrun/loom/internal/recovery"
	"github.com/loomrun/loom/internal/tools"
	"github.com/loomrun/loom/pkg/models"
)

// Run performs structural verification of one run's event log: it records
// whether a RunStarted and a RunCompleted are present (not how many),
// reports an error for any ToolStarted or terminal ToolCompleted/ToolFailed
// without a matching ToolRequested, warns on duplicate ToolRequested ids and
// on calls that started but never reached a terminal event, and computes
// the log's signature.
func Run(store *eventstore.Store, runID string) (models.ReplayReport, error) {
	events, err := store.Iter(runID, 0)
	if err != nil {
		return models.ReplayReport{}, fmt.Errorf("iterate run events: %w", err)
	}

	report := models.ReplayReport{RunID: runID, EventCount: len(events)}

	requested := map[string]bool{}
	started := map[string]bool{}
	finished := map[string]bool{}

	for _, ev := range events {
		switch ev.EventType {
		case models.EventRunStarted:
			report.HasStart = true
		case models.EventRunCompleted:
			report.HasEnd = true
		case models.EventToolRequested:
			report.ToolRequested++
			id, _ := ev.Payload["tool_call_id"].(string)
			if id == "" {
				report.Errors = append(report.Errors, "ToolRequested event missing tool_call_id")
				continue
			}
			if requested[id] {
				report.Warnings = append(report.Warnings, "duplicate ToolRequested for tool_call_id="+id)
			}
			requested[id] = true
		case models.EventToolStarted:
			report.ToolStarted++
			id, _ := ev.Payload["tool_call_id"].(string)
			if id == "" || !requested[id] {
				report.Errors = append(report.Errors, "ToolStarted without a matching ToolRequested: tool_call_id="+id)
				continue
			}
			started[id] = true
		case models.EventToolCompleted, models.EventToolFailed:
			report.ToolFinished++
			id, _ := ev.Payload["tool_call_id"].(string)
			if id == "" || !requested[id] {
				report.Errors = append(report.Errors, "terminal tool event without a matching ToolRequested: tool_call_id="+id)
				continue
			}
			finished[id] = true
		}
	}

	for id := range started {
		if !finished[id] {
			report.Warnings = append(report.Warnings, "tool_call_id="+id+" started but never reached a terminal event")
		}
	}

	sig, err := store.Signature(runID)
	if err != nil {
		return models.ReplayReport{}, fmt.Errorf("compute signature: %w", err)
	}
	report.Signature = sig
	report.DeterministicOK = sig != "" && report.HasStart && report.HasEnd

	return report, nil
}

// toolNameSequence returns the ordered tool names a run requested.
func toolNameSequence(store *eventstore.Store, runID string) ([]string, error) {
	events, err := store.Iter(runID, 0)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ev := range events {
		if ev.EventType != models.EventToolRequested {
			continue
		}
		name, _ := ev.Payload["tool_name"].(string)
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// findResumeSuccessors scans every event the store holds, across all runs,
// for RunStarted payloads whose recovery_resume_from field points at
// sourceRunID.
func findResumeSuccessors(store *eventstore.Store, sourceRunID string) ([]string, error) {
	events, err := store.Iter("", 0)
	if err != nil {
		return nil, err
	}
	var successors []string
	for _, ev := range events {
		if ev.EventType != models.EventRunStarted {
			continue
		}
		from, _ := ev.Payload["recovery_resume_from"].(string)
		if from == sourceRunID {
			successors = append(successors, ev.RunID)
		}
	}
	return successors, nil
}

// VerifyResumeEquivalence checks whether any recovery-resumed successor of
// sourceRunID covers a non-trivial share of the source run's tool activity,
// when the source had tool activity at all.
func VerifyResumeEquivalence(store *eventstore.Store, recoveryMgr *recovery.Manager, sourceRunID string) (models.ResumeEquivalenceReport, error) {
	report := models.ResumeEquivalenceReport{SourceRunID: sourceRunID}

	checkpoint, err := recoveryMgr.Load(sourceRunID)
	if err != nil {
		return report, err
	}
	report.CheckpointExists = checkpoint != nil

	successors, err := findResumeSuccessors(store, sourceRunID)
	if err != nil {
		return report, err
	}
	report.Successors = successors

	if len(successors) == 0 {
		report.Equivalent = false
		report.Details = "no recovery-resumed successor run found"
		return report, nil
	}

	sourceNames, err := toolNameSequence(store, sourceRunID)
	if err != nil {
		return report, err
	}
	if len(sourceNames) == 0 {
		report.Equivalent = true
		report.Details = "source run had no tool activity to continue"
		return report, nil
	}

	sourceSet := map[string]bool{}
	for _, n := range sourceNames {
		sourceSet[n] = true
	}

	for _, successorID := range successors {
		successorNames, err := toolNameSequence(store, successorID)
		if err != nil {
			return report, err
		}
		overlap := 0
		for _, n := range successorNames {
			if sourceSet[n] {
				overlap++
			}
		}
		if overlap > 0 {
			report.Equivalent = true
			report.Details = fmt.Sprintf("successor %s overlaps %d tool name(s) with source", successorID, overlap)
			return report, nil
		}
	}

	report.Equivalent = false
	report.Details = "no successor overlapped the source run's tool name sequence"
	return report, nil
}

// recordedOutcome is the (success, failure_code, output_hash) triple derived
// from a run's recorded ToolCompleted/ToolFailed event.
type recordedOutcome struct {
	success     bool
	failureCode string
	outputHash  string
}

func collectRecordedOutcomes(events []models.RuntimeEvent) map[string]recordedOutcome {
	out := make(map[string]recordedOutcome)
	for _, ev := range events {
		id, _ := ev.Payload["tool_call_id"].(string)
		if id == "" {
			continue
		}
		switch ev.EventType {
		case models.EventToolCompleted:
			hash := ""
			if output, ok := ev.Payload["output"].(string); ok && output != "" && output != "[redacted]" {
				hash = hashText(output)
			}
			out[id] = recordedOutcome{success: true, outputHash: hash}
		case models.EventToolFailed:
			code, _ := ev.Payload["failure_code"].(string)
			out[id] = recordedOutcome{success: false, failureCode: code}
		}
	}
	return out
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Reexecute re-invokes every recorded ToolRequested call of runID against
// registry, skipping elevated-mode calls (replay of elevated commands is
// disabled) and, unless allowWrite is set, skipping any call whose inferred
// mode is not read_only. Each re-invoked call's outcome is compared against
// the originally recorded outcome.
func Reexecute(ctx context.Context, store *eventstore.Store, runID string, registry *tools.Registry, eng *policy.Engine, allowWrite bool) (models.ReplayReexecutionReport, error) {
	events, err := store.Iter(runID, 0)
	if err != nil {
		return models.ReplayReexecutionReport{}, err
	}

	recorded := collectRecordedOutcomes(events)
	report := models.ReplayReexecutionReport{RunID: runID}

	for _, ev := range events {
		if ev.EventType != models.EventToolRequested {
			continue
		}
		report.Requested++

		id, _ := ev.Payload["tool_call_id"].(string)
		name, _ := ev.Payload["tool_name"].(string)
		mode, _ := ev.Payload["execution_mode"].(string)
		args, _ := ev.Payload["arguments"].(map[string]any)

		detail := models.ReexecutionDetail{ToolCallID: id, ToolName: name}

		if id == "" || name == "" {
			detail.Status = "skipped"
			detail.Reason = "missing tool_call_id or tool_name"
			report.Skipped++
			report.Details = append(report.Details, detail)
			continue
		}
		if models.ExecutionMode(mode) == models.ModeElevated {
			detail.Status = "skipped"
			detail.Reason = "elevated replay is disabled"
			report.Skipped++
			report.Details = append(report.Details, detail)
			continue
		}
		if !allowWrite && !policy.ReadOnlyTools[name] {
			detail.Status = "skipped"
			detail.Reason = "non-read-only tool skipped (use allow-write reexecution)"
			report.Skipped++
			report.Details = append(report.Details, detail)
			continue
		}

		argsJSON, _ := json.Marshal(args)
		result, execErr := registry.Execute(ctx, name, argsJSON)
		report.Executed++
		if execErr != nil {
			result = &models.ToolResult{Success: false, Error: execErr.Error()}
		}

		detail.ReexecutedSuccess = result.Success
		if !result.Success {
			detail.ReexecutedFailureCode = failure.ClassifyText(result.Error).Code
		} else if result.Output != "" {
			detail.ReexecutedOutputHash = hashText(result.Output)
		}

		prior, ok := recorded[id]
		if !ok {
			detail.Status = "mismatched"
			detail.Reason = "no recorded outcome for this tool_call_id"
			report.Mismatched++
			report.Details = append(report.Details, detail)
			continue
		}

		detail.RecordedSuccess = prior.success
		detail.RecordedFailureCode = prior.failureCode
		detail.RecordedOutputHash = prior.outputHash

		switch {
		case prior.success != result.Success:
			detail.Status = "mismatched"
			detail.Reason = "success status differs"
		case !result.Success && prior.failureCode != detail.ReexecutedFailureCode:
			detail.Status = "mismatched"
			detail.Reason = "failure_code differs"
		case result.Success && prior.outputHash != "" && prior.outputHash != detail.ReexecutedOutputHash:
			detail.Status = "mismatched"
			detail.Reason = "output_hash differs"
		default:
			detail.Status = "matched"
		}

		if detail.Status == "mismatched" {
			report.Mismatched++
		} else {
			report.Matched++
		}
		report.Details = append(report.Details, detail)
	}

	return report, nil
}
