package models

import "time"

// Actor is the user performing a workflow operation.
type Actor struct {
	ID   int64
	Name string
}

// User is a stored account with its review capabilities.
type User struct {
	ID          int64
	Name        string
	IsReviewer  bool
	IsSuperUser bool
	CreatedAt   time.Time
}

// Actor returns the workflow identity for u.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Name: u.Name}
}

// UserMetrics are the review counters kept per user.
type UserMetrics struct {
	UserID int64
	// As mapper: outcomes of reviews on tasks the user requested.
	TotalApproved int64
	TotalRejected int64
	TotalAssisted int64
	// As reviewer: decisions the user made.
	ReviewsApproved int64
	ReviewsRejected int64
	ReviewsAssisted int64
	ReviewsDisputed int64
	MetaReviews     int64
	ReviewTimeMs    int64
}

// Achievement is a badge granted to a user.
type Achievement struct {
	UserID    int64
	Code      string
	GrantedAt time.Time
}
