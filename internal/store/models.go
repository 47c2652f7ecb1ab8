package store

import (
	"time"

	"gorm.io/datatypes"
)

// Trick is the stable identity shared by every version of a trick.
type Trick struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Slug      string    `gorm:"size:128;not null;uniqueIndex" json:"slug"`
	UserID    string    `gorm:"size:128;not null" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TrickVersion is one immutable revision of a trick's content.
type TrickVersion struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	TrickID      string    `gorm:"size:36;not null;uniqueIndex:idx_trick_version,priority:1" json:"trick_id"`
	Version      int       `gorm:"not null;uniqueIndex:idx_trick_version,priority:2" json:"version"`
	Name         string    `gorm:"not null" json:"name"`
	Description  string    `json:"description"`
	DifficultyID string    `gorm:"size:64" json:"difficulty,omitempty"`
	Active       bool      `gorm:"not null;index" json:"active"`
	UserID       string    `gorm:"size:128" json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`

	Slug          string         `gorm:"-" json:"slug"`
	Categories    []string       `gorm:"-" json:"categories"`
	Prerequisites []Prerequisite `gorm:"-" json:"prerequisites"`
}

// Prerequisite is a directed edge owned by the dependent trick's version.
type Prerequisite struct {
	VersionID      string `gorm:"primaryKey;size:36" json:"-"`
	PrerequisiteID string `gorm:"primaryKey;size:36;index" json:"prerequisite_id"`
	TrickID        string `gorm:"size:36;not null;index" json:"-"`
	Position       int    `gorm:"not null" json:"position"`
	Active         bool   `gorm:"not null;index" json:"active"`
}

type TrickVersionCategory struct {
	VersionID  string `gorm:"primaryKey;size:36"`
	CategoryID string `gorm:"primaryKey;size:64"`
}

type Difficulty struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Category struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Submission lifecycle states.
type SubmissionStatus string

const (
	StatusCreated            SubmissionStatus = "created"
	StatusAwaitingProcessing SubmissionStatus = "awaiting_processing"
	StatusAwaitingVotes      SubmissionStatus = "awaiting_votes"
	StatusUnderModeration    SubmissionStatus = "under_moderation"
	StatusAccepted           SubmissionStatus = "accepted"
	StatusRejected           SubmissionStatus = "rejected"
)

// Resolved reports whether s is terminal.
func (s SubmissionStatus) Resolved() bool {
	return s == StatusAccepted || s == StatusRejected
}

type Submission struct {
	ID             string           `gorm:"primaryKey;size:36" json:"id"`
	TrickID        string           `gorm:"size:36;not null;index" json:"trick_id"`
	UserID         string           `gorm:"size:128;not null;index" json:"user_id"`
	Description    string           `json:"description,omitempty"`
	VideoRef       string           `gorm:"not null" json:"video_ref"`
	VideoProcessed bool             `gorm:"not null" json:"video_processed"`
	Status         SubmissionStatus `gorm:"size:32;not null;index" json:"status"`
	FinalScore     *int             `json:"final_score,omitempty"`
	FinalVotes     *int             `json:"final_votes,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`

	// Filled by listing queries that join votes.
	Score int `gorm:"->;-:migration" json:"score"`
	Votes int `gorm:"->;-:migration" json:"votes"`
}

type Vote struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	SubmissionID string    `gorm:"size:36;not null;uniqueIndex:idx_vote_submission_user,priority:1" json:"submission_id"`
	UserID       string    `gorm:"size:128;not null;uniqueIndex:idx_vote_submission_user,priority:2" json:"user_id"`
	Value        int       `gorm:"not null" json:"value"` // 1 or -1
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Comment struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	SubmissionID string     `gorm:"size:36;not null;index" json:"submission_id"`
	ParentID     string     `gorm:"size:36;index" json:"parent_id,omitempty"`
	UserID       string     `gorm:"size:128;not null" json:"user_id"`
	Content      string     `gorm:"not null" json:"content"`
	HTMLContent  string     `json:"html_content"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	RemovedAt    *time.Time `json:"-"`
	RemovedBy    string     `gorm:"size:128" json:"-"`

	Removed bool       `gorm:"-" json:"removed,omitempty"`
	Replies []*Comment `gorm:"-" json:"replies,omitempty"`
}

// ModerationItem is a pending or resolved review request over one target.
type ModerationItem struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	TargetType  string         `gorm:"size:16;not null;index:idx_moderation_target,priority:1" json:"target_type"`
	TargetID    string         `gorm:"size:36;not null;index:idx_moderation_target,priority:2" json:"target_id"`
	Reason      string         `json:"reason,omitempty"`
	Source      string         `gorm:"size:16;not null" json:"source"`
	RequestedBy string         `gorm:"size:128" json:"requested_by,omitempty"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Decision    string         `gorm:"size:16" json:"decision,omitempty"`
	ModeratorID string         `gorm:"size:128" json:"moderator_id,omitempty"`
	Note        string         `json:"note,omitempty"`
}

// Open reports whether the item still awaits a decision.
func (m *ModerationItem) Open() bool {
	return m.ResolvedAt == nil
}

// SortOrder for submission listings.
type SortOrder string

const (
	SortTop SortOrder = "top"
	SortNew SortOrder = "new"
)

// Models lists every table in migration order.
func Models() []any {
	return []any{
		&Difficulty{},
		&Category{},
		&Trick{},
		&TrickVersion{},
		&TrickVersionCategory{},
		&Prerequisite{},
		&Submission{},
		&Vote{},
		&Comment{},
		&ModerationItem{},
	}
}
