package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"rewardguard/internal/domain"
	"rewardguard/internal/infra/storemem"

	"github.com/shopspring/decimal"
)

type taskWriter interface {
	PutTask(ctx context.Context, task domain.Task) error
}

type memTaskWriter struct {
	store *storemem.Store
}

func (w memTaskWriter) PutTask(_ context.Context, task domain.Task) error {
	w.store.PutTask(task)
	return nil
}

type taskFile struct {
	Tasks []taskEntry `json:"tasks"`
}

type taskEntry struct {
	ID            string          `json:"id"`
	Category      string          `json:"category"`
	Platform      string          `json:"platform"`
	TargetAccount string          `json:"target_account"`
	TargetPostURL string          `json:"target_post_url"`
	ChannelID     string          `json:"channel_id"`
	Reward        decimal.Decimal `json:"reward"`
	Active        *bool           `json:"active"`
}

// seedTasks loads the task catalogue from a JSON file into the store.
// Tasks are active unless the file says otherwise.
func seedTasks(ctx context.Context, path string, w taskWriter) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var file taskFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, entry := range file.Tasks {
		task, err := entry.toDomain()
		if err != nil {
			return i, fmt.Errorf("task %d: %w", i, err)
		}
		if err := w.PutTask(ctx, task); err != nil {
			return i, fmt.Errorf("store task %s: %w", task.ID, err)
		}
	}
	return len(file.Tasks), nil
}

func (e taskEntry) toDomain() (domain.Task, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return domain.Task{}, fmt.Errorf("id is required")
	}
	task := domain.Task{
		ID:            id,
		Category:      domain.TaskCategory(strings.ToLower(strings.TrimSpace(e.Category))),
		TargetAccount: e.TargetAccount,
		TargetPostURL: e.TargetPostURL,
		ChannelID:     e.ChannelID,
		Reward:        e.Reward,
		Active:        e.Active == nil || *e.Active,
	}
	if e.Platform != "" {
		platform, ok := domain.ParsePlatform(e.Platform)
		if !ok {
			return domain.Task{}, fmt.Errorf("unsupported platform %q", e.Platform)
		}
		task.Platform = platform
	}
	return task, nil
}
