package service

import (
	"errors"
	"fmt"

	"github.com/digkill/printstudio/internal/jsonextract"
	"github.com/digkill/printstudio/internal/provider"
	"github.com/digkill/printstudio/internal/repository"
	"github.com/digkill/printstudio/internal/store"
)

var (
	ErrSlotBusy        = errors.New("generation already in progress for this slot")
	ErrNoActiveProject = store.ErrNoActiveProject
	// ErrDiscarded means the session switched projects before the result arrived.
	ErrDiscarded = errors.New("project changed during generation, result discarded")
)

// ValidationError rejects a request before any work starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

type Op string

const (
	OpPlan       Op = "plan"
	OpImage      Op = "image"
	OpMockup     Op = "mockup"
	OpExtraPages Op = "extra_pages"
	OpConcept    Op = "concept"
	OpIdeas      Op = "ideas"
)

// GenerationError is a provider or parse failure for one operation.
type GenerationError struct {
	Op  Op
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("%s generation: %v", e.Op, e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

var failureNotices = map[Op]string{
	OpPlan:       "Something went wrong generating your plan. Please try again. If the issue persists, try a simpler theme.",
	OpImage:      "Failed to generate image. Please try again.",
	OpMockup:     "Failed to generate mockup. Please try a different scene or image.",
	OpExtraPages: "Failed to generate extra pages.",
	OpConcept:    "Could not regenerate concept.",
	OpIdeas:      "Could not generate ideas. Please try again.",
}

// Notice turns any service error into one message fit for an end user.
// Provider text never leaks through.
func Notice(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	var gerr *GenerationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, provider.ErrMissingCredential):
		return "The generation service is not configured. Add an API key and try again."
	case errors.Is(err, ErrSlotBusy):
		return "This item is already being generated. Please wait for it to finish."
	case errors.Is(err, ErrNoActiveProject):
		return "Start or open a project first."
	case errors.Is(err, ErrDiscarded):
		return "The project changed while generating, so the result was dropped."
	case errors.Is(err, store.ErrPageNotFound):
		return "That page no longer exists."
	case errors.Is(err, store.ErrAssetNotFound):
		return "That image no longer exists."
	case errors.Is(err, store.ErrIdeaNotFound):
		return "That idea no longer exists."
	case errors.Is(err, repository.ErrNotFound):
		return "Project not found."
	case errors.As(err, &gerr):
		if msg, ok := failureNotices[gerr.Op]; ok {
			return msg
		}
	case errors.Is(err, jsonextract.ErrNoJSON), errors.Is(err, provider.ErrNoImage):
		return "The AI response could not be used. Please try again."
	}
	return "Something went wrong. Please try again."
}
