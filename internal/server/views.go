package server

import (
	"time"

	"github.com/sigman78/waycms/internal/store"
)

type userView struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	IsAdmin     bool       `json:"is_admin"`
	HasPassword bool       `json:"has_password"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

func viewUser(u *store.User) userView {
	v := userView{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		IsAdmin:     u.IsAdmin,
		HasPassword: u.HasPassword(),
		CreatedAt:   u.CreatedAt,
	}
	if !u.LastLogin.IsZero() {
		t := u.LastLogin
		v.LastLogin = &t
	}
	return v
}

func viewUsers(us []store.User) []userView {
	out := make([]userView, 0, len(us))
	for i := range us {
		out = append(out, viewUser(&us[i]))
	}
	return out
}

type projectView struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	WebsiteURL string    `json:"website_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func viewProject(p *store.Project) projectView {
	return projectView{ID: p.ID, Name: p.Name, Slug: p.Slug, WebsiteURL: p.WebsiteURL, CreatedAt: p.CreatedAt}
}

func viewProjects(ps []store.Project) []projectView {
	out := make([]projectView, 0, len(ps))
	for i := range ps {
		out = append(out, viewProject(&ps[i]))
	}
	return out
}
