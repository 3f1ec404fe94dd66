package domain

import (
	"context"
	"time"
)

type profileContextKey struct{}

// Stage is one timed step of a run (load, align, evaluate, size, ...).
type Stage struct {
	Name      string `json:"name"`
	ElapsedMs int64  `json:"elapsedMs"`

	startTs time.Time
}

// Profile is a list of stages. Not thread safe; a run owns its profile.
type Profile struct {
	Stages  []*Stage `json:"stages"`
	TotalMs int64    `json:"totalMs"`

	startTs time.Time
}

func NewProfile() *Profile {
	return &Profile{
		Stages:  []*Stage{},
		startTs: time.Now(),
	}
}

// StartStage ends the previous stage and begins a new one.
func (p *Profile) StartStage(name string) func() {
	if p == nil {
		return func() {}
	}
	if len(p.Stages) > 0 {
		p.Stages[len(p.Stages)-1].end()
	}
	s := &Stage{Name: name, startTs: time.Now()}
	p.Stages = append(p.Stages, s)
	return s.end
}

func (s *Stage) end() {
	if s.ElapsedMs == 0 {
		s.ElapsedMs = time.Since(s.startTs).Milliseconds()
	}
}

func (p *Profile) End() {
	if p == nil {
		return
	}
	if len(p.Stages) > 0 {
		p.Stages[len(p.Stages)-1].end()
	}
	p.TotalMs = time.Since(p.startTs).Milliseconds()
}

func WithProfile(ctx context.Context, p *Profile) context.Context {
	return context.WithValue(ctx, profileContextKey{}, p)
}

// ProfileFromContext returns nil when no profile is attached; every
// Profile method is nil-safe.
func ProfileFromContext(ctx context.Context) *Profile {
	p, _ := ctx.Value(profileContextKey{}).(*Profile)
	return p
}
