package telegram

import (
	"strings"
	"sync"

	"github.com/digkill/printstudio/internal/models"
)

type Step int

const (
	StepIdle Step = iota
	StepProductType
	StepTheme
	StepAudience
	StepArtStyle
	StepSize
	StepCustomSize
	StepPageName
	StepPagePrompt
)

// ChatState is the per-chat position in the wizard and the add-page dialog.
type ChatState struct {
	Step       Step
	Authorized bool
	Wizard     models.WizardConfiguration
	PageName   string
}

type StateManager struct {
	mu    sync.RWMutex
	chats map[int64]*ChatState
}

func NewStateManager() *StateManager {
	return &StateManager{
		chats: make(map[int64]*ChatState),
	}
}

// Get returns a copy of the chat state.
func (m *StateManager) Get(chatID int64) ChatState {
	m.mu.RLock()
	st, ok := m.chats[chatID]
	m.mu.RUnlock()
	if ok {
		return *st
	}
	return ChatState{Wizard: models.DefaultWizard()}
}

func (m *StateManager) Set(chatID int64, st ChatState) {
	m.mu.Lock()
	m.chats[chatID] = &st
	m.mu.Unlock()
}

// Reset drops the dialog position but keeps authorization.
func (m *StateManager) Reset(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	authorized := false
	if st, ok := m.chats[chatID]; ok {
		authorized = st.Authorized
	}
	m.chats[chatID] = &ChatState{Authorized: authorized, Wizard: models.DefaultWizard()}
}

var (
	productTypes = []string{"Coloring Book", "Planner", "Journal", "Sticker Sheet", "Wall Art"}
	sizeOptions  = []models.PublicationSize{models.SizePortrait, models.SizeSquare, models.SizeLandscape, models.SizeCustom}
)

// advanceWizard applies one free-text answer to the wizard and returns the
// next step together with the question to ask. done is set once all answers
// are collected.
func advanceWizard(st ChatState, input string) (next ChatState, question string, done bool) {
	input = strings.TrimSpace(input)
	next = st
	switch st.Step {
	case StepProductType:
		if input == "" {
			return st, "Please choose or type a product type.", false
		}
		next.Wizard.ProductType = input
		next.Step = StepTheme
		return next, "What is the theme? For example: ocean animals, cozy autumn, space.", false
	case StepTheme:
		next.Wizard.Theme = input
		next.Step = StepAudience
		return next, "Who is it for? For example: kids 4-8, adults, teachers.", false
	case StepAudience:
		next.Wizard.TargetAudience = input
		next.Step = StepArtStyle
		return next, "Which art style? For example: kawaii, realistic, watercolor.", false
	case StepArtStyle:
		next.Wizard.ArtStyle = input
		next.Step = StepSize
		return next, "Choose the publication size.", false
	case StepSize:
		size, ok := parseSize(input)
		if !ok {
			return st, "Please choose one of the offered sizes.", false
		}
		next.Wizard.PublicationSize = size
		if size == models.SizeCustom {
			next.Step = StepCustomSize
			return next, "Enter the custom dimensions, for example 6x9 in.", false
		}
		next.Step = StepIdle
		return next, "", true
	case StepCustomSize:
		next.Wizard.CustomDimensions = input
		next.Step = StepIdle
		return next, "", true
	}
	return st, "", false
}

func parseSize(raw string) (models.PublicationSize, bool) {
	for _, s := range sizeOptions {
		if strings.EqualFold(raw, string(s)) {
			return s, true
		}
	}
	switch strings.ToLower(raw) {
	case "portrait":
		return models.SizePortrait, true
	case "square":
		return models.SizeSquare, true
	case "landscape":
		return models.SizeLandscape, true
	case "custom":
		return models.SizeCustom, true
	}
	return "", false
}
