package models

import "time"

// NotificationType identifies the lifecycle event that produced a notification.
type NotificationType string

const (
	NotificationIssueCreated  NotificationType = "issue_created"
	NotificationIssueUpdated  NotificationType = "issue_updated"
	NotificationIssueResolved NotificationType = "issue_resolved"
	NotificationIssueAssigned NotificationType = "issue_assigned"
	NotificationCommentAdded  NotificationType = "comment_added"
)

// Notification is addressed to a single recipient and removed with its issue.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Type        NotificationType `db:"type" json:"type"`
	IssueID     string           `db:"issue_id" json:"issue_id"`
	Message     string           `db:"message" json:"message"`
	IsRead      bool             `db:"is_read" json:"is_read"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`

	IssueTitle string `db:"issue_title" json:"issue_title,omitempty"`
}

// NotificationFilter narrows a recipient's notification listing.
type NotificationFilter struct {
	RecipientID string
	Unread      *bool
	Page        int
	PageSize    int
}
