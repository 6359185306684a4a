// Package timetable provides an in-memory train-schedule service. In a
// deployment the timetable lives behind the planning API; this stand-in
// backs the CLI and tests.
package timetable

import (
	"context"
	"errors"

	"osrd.dev/macro/model"
)

var ErrScheduleNotFound = errors.New("train schedule not found")

type Memory struct {
	schedules map[int64]model.TrainSchedule
	nextID    int64
}

func NewMemory(existing ...model.TrainSchedule) *Memory {
	m := &Memory{
		schedules: map[int64]model.TrainSchedule{},
		nextID:    1,
	}
	for _, ts := range existing {
		m.schedules[ts.ID] = ts
		if ts.ID >= m.nextID {
			m.nextID = ts.ID + 1
		}
	}
	return m
}

func (m *Memory) CreateSchedules(ctx context.Context, payloads []model.TrainScheduleUpsert) ([]model.TrainSchedule, error) {
	created := make([]model.TrainSchedule, 0, len(payloads))
	for _, p := range payloads {
		ts := scheduleFromUpsert(m.nextID, p)
		m.nextID++
		m.schedules[ts.ID] = ts
		created = append(created, ts)
	}
	return created, nil
}

func (m *Memory) UpdateSchedule(ctx context.Context, id int64, payload model.TrainScheduleUpsert) (model.TrainSchedule, error) {
	if _, ok := m.schedules[id]; !ok {
		return model.TrainSchedule{}, ErrScheduleNotFound
	}
	ts := scheduleFromUpsert(id, payload)
	m.schedules[id] = ts
	return ts, nil
}

func (m *Memory) DeleteSchedules(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, ok := m.schedules[id]; !ok {
			return ErrScheduleNotFound
		}
	}
	for _, id := range ids {
		delete(m.schedules, id)
	}
	return nil
}

func (m *Memory) GetSchedule(ctx context.Context, id int64) (model.TrainSchedule, error) {
	ts, ok := m.schedules[id]
	if !ok {
		return model.TrainSchedule{}, ErrScheduleNotFound
	}
	return ts, nil
}

func scheduleFromUpsert(id int64, p model.TrainScheduleUpsert) model.TrainSchedule {
	return model.TrainSchedule{
		ID:                     id,
		TrainName:              p.TrainName,
		StartTime:              p.StartTime,
		Path:                   p.Path,
		Schedule:               p.Schedule,
		Labels:                 p.Labels,
		Margins:                p.Margins,
		ConstraintDistribution: p.ConstraintDistribution,
		RollingStockName:       p.RollingStockName,
	}
}
