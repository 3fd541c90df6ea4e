package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Project is a portfolio project as served by the public listings and
// managed through the admin routes.
type Project struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	GithubLink  string    `json:"githubLink"`
	LiveLink    string    `json:"liveLink"`
	TechStack   string    `json:"techStack"`
	ImageURL    string    `json:"imageUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ContactMessage is one contact-form submission. The admission layer reads
// the IP/time history and message body for abuse checks; the admin routes
// list and manage the inbox.
type ContactMessage struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`
}

// ProjectStore is the persistence collaborator for projects.
type ProjectStore interface {
	ListProjects(ctx context.Context) ([]Project, error)
	ProjectByID(ctx context.Context, id int64) (*Project, error)
	CreateProject(ctx context.Context, p *Project) (int64, error)
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id int64) error
	CountProjects(ctx context.Context) (int64, error)
}

// ContactStore is the persistence collaborator for contact messages.
type ContactStore interface {
	InsertContactMessage(ctx context.Context, m *ContactMessage) (int64, error)
	ListContactMessages(ctx context.Context) ([]ContactMessage, error)
	ContactMessageByID(ctx context.Context, id int64) (*ContactMessage, error)
	MarkContactMessageRead(ctx context.Context, id int64) error
	DeleteContactMessage(ctx context.Context, id int64) error
	CountUnread(ctx context.Context) (int64, error)
	CountSubmissionsSince(ctx context.Context, ipAddress string, since time.Time) (int64, error)
}
