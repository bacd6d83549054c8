package mappers

import (
	"encoding/json"

	api "github.com/examsift/grading-engine/api/v1alpha1"
	"github.com/examsift/grading-engine/internal/events"
	"github.com/examsift/grading-engine/internal/service"
	"github.com/examsift/grading-engine/internal/store/model"
)

func RunToApi(run *model.Run) api.Run {
	return api.Run{
		ID:        run.ID,
		Workflow:  run.Workflow,
		Status:    api.StringToRunStatus(string(run.Status)),
		Error:     run.Error,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
}

func ProgressToApi(progress *service.RunProgress) *api.RunProgress {
	if progress == nil {
		return nil
	}
	return &api.RunProgress{
		StagesCompleted: progress.StagesCompleted,
		StageCount:      progress.StageCount,
	}
}

func RunListToApi(runs model.RunList) api.RunList {
	items := make([]api.Run, 0, len(runs))
	for i := range runs {
		items = append(items, RunToApi(&runs[i]))
	}
	return api.RunList{Items: items, Total: len(items)}
}

func RunStateToApi(state *service.RunState) api.RunState {
	return api.RunState{
		RunID:      state.RunID,
		Status:     api.StringToRunStatus(string(state.Status)),
		StageIndex: state.StageIndex,
		State:      state.State,
		Interrupt:  state.Interrupt,
	}
}

func EventToApi(e events.Event) api.RunEvent {
	return api.RunEvent{
		RunID:    e.RunID,
		Sequence: e.Sequence,
		Kind:     e.Kind,
		Stage:    e.Stage,
		Payload:  json.RawMessage(e.Payload),
	}
}
