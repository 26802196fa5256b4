package models

import "time"

// Task is a mapping task. Identity and bundle membership are owned upstream;
// this project only reads them and writes the embedded ReviewRecord.
type Task struct {
	ID              int64
	ParentID        int64 // challenge id
	Name            string
	BundleID        *int64
	IsBundlePrimary bool
	MappedOn        *time.Time
	Review          ReviewRecord
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InBundle reports whether the task belongs to a bundle.
func (t *Task) InBundle() bool {
	return t.BundleID != nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.BundleID != nil {
		v := *t.BundleID
		c.BundleID = &v
	}
	if t.MappedOn != nil {
		v := *t.MappedOn
		c.MappedOn = &v
	}
	c.Review = t.Review.Clone()
	return &c
}

// TaskBundle is a set of tasks completed together and reviewed as a unit.
type TaskBundle struct {
	ID            int64
	OwnerID       int64
	Name          string
	TaskIDs       []int64
	PrimaryTaskID *int64 // nil when the bundle has no designated primary
	CreatedAt     time.Time
}

// IsPrimary reports whether taskID is the bundle's designated primary.
func (b *TaskBundle) IsPrimary(taskID int64) bool {
	return b.PrimaryTaskID != nil && *b.PrimaryTaskID == taskID
}
