package ctfnote

import (
	"strconv"
	"strings"
	"time"
)

// Profile is a CTFNote member profile.
type Profile struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Role     string `json:"role"`
}

// WorkOnTask links a profile to a task it is assigned to.
type WorkOnTask struct {
	ProfileID int     `json:"profileId"`
	Profile   Profile `json:"profile"`
}

// Task is a single challenge within a CTF. An empty Flag means unset.
type Task struct {
	ID          int          `json:"id"`
	CtfID       int          `json:"ctfId"`
	Title       string       `json:"title"`
	Category    string       `json:"category"`
	Description string       `json:"description"`
	PadURL      string       `json:"padUrl"`
	Flag        string       `json:"flag"`
	Solved      bool         `json:"solved"`
	WorkOnTasks nodes[WorkOnTask] `json:"workOnTasks"`
}

// Assignees returns the task's assigned profiles in remote order.
func (t *Task) Assignees() []WorkOnTask {
	return t.WorkOnTasks.Nodes
}

// CTF is a single competition instance with its time window and tasks.
// Tasks is populated only by the full-CTF query.
type CTF struct {
	ID         int         `json:"id"`
	Title      string      `json:"title"`
	CtfURL     string      `json:"ctfUrl"`
	CtftimeURL string      `json:"ctftimeUrl"`
	StartTime  time.Time   `json:"startTime"`
	EndTime    time.Time   `json:"endTime"`
	Tasks      nodes[Task] `json:"tasks"`
}

// Active reports whether now falls inside the CTF's [start, end) window.
func (c *CTF) Active(now time.Time) bool {
	return !now.Before(c.StartTime) && now.Before(c.EndTime)
}

// TaskByID returns the task with the given id, if present.
func (c *CTF) TaskByID(id int) (*Task, bool) {
	for i := range c.Tasks.Nodes {
		if c.Tasks.Nodes[i].ID == id {
			return &c.Tasks.Nodes[i], true
		}
	}
	return nil, false
}

// TaskByTitle returns the task whose title matches name after stripping
// solvedPrefix, so a channel renamed on solve still resolves its task.
func (c *CTF) TaskByTitle(name, solvedPrefix string) (*Task, bool) {
	name = strings.TrimPrefix(name, solvedPrefix)
	for i := range c.Tasks.Nodes {
		if c.Tasks.Nodes[i].Title == name {
			return &c.Tasks.Nodes[i], true
		}
	}
	return nil, false
}

// CtftimeID extracts the numeric event id from a ctftime.org event URL.
func (c *CTF) CtftimeID() (int, bool) {
	if c.CtftimeURL == "" {
		return 0, false
	}
	parts := strings.Split(strings.TrimRight(c.CtftimeURL, "/"), "/")
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// User is a CTFNote account with its profile.
type User struct {
	ID      int     `json:"id"`
	Login   string  `json:"login"`
	Role    string  `json:"role"`
	Profile Profile `json:"profile"`
}

// nodes unwraps the {"nodes": [...]} collection shape the API uses.
type nodes[T any] struct {
	Nodes []T `json:"nodes"`
}
