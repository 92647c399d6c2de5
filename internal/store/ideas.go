package store

import (
	"slices"

	"github.com/digkill/printstudio/internal/models"
)

// Ideas are session-only and never part of a project snapshot.

func (s *Session) SetIdeas(ideas []models.GeneratedIdea) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ideas = slices.Clone(ideas)
}

func (s *Session) Ideas() []models.GeneratedIdea {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ideas)
}

func (s *Session) Idea(i int) (models.GeneratedIdea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.ideas) {
		return models.GeneratedIdea{}, ErrIdeaNotFound
	}
	return s.ideas[i], nil
}

func (s *Session) EditIdea(i int, idea models.GeneratedIdea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.ideas) {
		return ErrIdeaNotFound
	}
	s.ideas[i] = idea
	return nil
}

func (s *Session) DeleteIdea(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.ideas) {
		return ErrIdeaNotFound
	}
	s.ideas = slices.Delete(s.ideas, i, i+1)
	return nil
}
