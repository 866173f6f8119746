package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Joseda-hg/socius/internal/model"
)

// SeedResult names the rows Seed created so callers can print a usable config.
type SeedResult struct {
	Leader model.UserRef
	Member model.UserRef
	Team   model.Team
	Tasks  []model.Task
}

// Seed fills an empty database with one team, two people and a handful of
// tasks, one of them already past its deadline.
func (s *Store) Seed(ctx context.Context) (SeedResult, error) {
	var result SeedResult

	leader, err := s.CreateUser(ctx, "Maria", "Lopez")
	if err != nil {
		return result, err
	}
	member, err := s.CreateUser(ctx, "Tomas", "Ruiz")
	if err != nil {
		return result, err
	}
	team, err := s.CreateTeam(ctx, "People Ops", leader.ID)
	if err != nil {
		return result, err
	}
	if err := s.AddTeamMember(ctx, team.ID, member.ID); err != nil {
		return result, err
	}
	team, err = s.GetTeam(ctx, team.ID)
	if err != nil {
		return result, err
	}

	now := s.now()
	inputs := []TaskInput{
		{Name: "Collect onboarding documents", Deadline: model.FormatTimestamp(now.Add(-2 * time.Hour)), Status: model.StatusInProgress},
		{Name: "Update holiday calendar", Deadline: model.FormatTimestamp(now.Add(3 * time.Hour)), Status: model.StatusInProgress},
		{Name: "Review payroll export", Description: "Check overtime column", Deadline: model.FormatTimestamp(now.Add(26 * time.Hour)), Status: model.StatusPending},
		{Name: "Plan team offsite", Deadline: model.FormatTimestamp(now.Add(7 * 24 * time.Hour)), Status: model.StatusInProgress},
	}
	for _, input := range inputs {
		input.AssigneeID = member.ID
		input.TeamID = team.ID
		task, err := s.CreateTask(ctx, input)
		if err != nil {
			return result, fmt.Errorf("seed task %q: %w", input.Name, err)
		}
		result.Tasks = append(result.Tasks, task)
	}

	result.Leader = leader
	result.Member = member
	result.Team = team
	return result, nil
}
