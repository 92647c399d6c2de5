package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/printstudio/internal/directive"
	"github.com/digkill/printstudio/internal/models"
	"github.com/digkill/printstudio/internal/provider"
	"github.com/digkill/printstudio/internal/service"
	"github.com/digkill/printstudio/internal/store"
)

const helpText = `Commands:
/new - start the project wizard
/quick - start a blank project
/plan - show the current plan
/pages - list pages
/image <n> - generate the image for page n
/regen <n> - generate page n again
/all - generate every missing image
/more - add a few new pages
/concept <n> - rethink page n
/mode <n> <color|line_art> - set the render mode
/addpage - add a page by hand
/delpage <n> - delete page n
/ideas <cover|page|sticker> [notes] - brainstorm prompts
/promote <n> - turn idea n into a page
/scenes - suggest mockup scenes
/mockup <n> [scene] - put page n into a product photo
/projects - list saved projects
/open <n> - open saved project n
/delete <n> - delete saved project n
/restart - close the current project`

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type updateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api         sender
	updates     updateSource
	log         *slog.Logger
	gate        *service.AccessGate
	projects    *service.ProjectService
	generations *service.GenerationService
	state       *StateManager
	wg          sync.WaitGroup
}

func NewBot(api *tgbotapi.BotAPI, log *slog.Logger, gate *service.AccessGate, projects *service.ProjectService, generations *service.GenerationService) *Bot {
	b := newBot(api, log, gate, projects, generations)
	b.updates = api
	return b
}

func newBot(api sender, log *slog.Logger, gate *service.AccessGate, projects *service.ProjectService, generations *service.GenerationService) *Bot {
	return &Bot{
		api:         api,
		log:         log,
		gate:        gate,
		projects:    projects,
		generations: generations,
		state:       NewStateManager(),
	}
}

// Run handles updates until ctx is cancelled. Each update runs on its own
// goroutine so a long generation does not hold up other chats.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.updates.GetUpdatesChan(u)
	b.log.Info("telegram bot started")
	defer b.wg.Wait()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				switch {
				case update.Message != nil:
					b.handleMessage(ctx, update.Message)
				case update.CallbackQuery != nil:
					b.handleCallback(ctx, update.CallbackQuery)
				}
			}()
		case <-ctx.Done():
			b.updates.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func sessionKey(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func (b *Bot) session(chatID int64) *store.Session {
	return b.projects.Sessions().Get(sessionKey(chatID))
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	st := b.state.Get(chatID)

	if msg.IsCommand() && msg.Command() == "code" {
		b.handleCode(chatID, msg.CommandArguments())
		return
	}
	if b.gate.Enabled() && !st.Authorized {
		b.sendText(chatID, "Send /code <access code> to unlock the studio.")
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	switch st.Step {
	case StepProductType, StepTheme, StepAudience, StepArtStyle, StepSize, StepCustomSize:
		b.handleWizardAnswer(ctx, chatID, st, msg.Text)
	case StepPageName:
		name := strings.TrimSpace(msg.Text)
		if name == "" {
			b.sendText(chatID, "Please enter a page name.")
			return
		}
		st.PageName = name
		st.Step = StepPagePrompt
		b.state.Set(chatID, st)
		b.sendText(chatID, "Now send the image prompt for this page.")
	case StepPagePrompt:
		b.state.Reset(chatID)
		page, err := b.projects.AddPage(b.session(chatID), st.PageName, msg.Text)
		if err != nil {
			b.sendError(chatID, err)
			return
		}
		b.sendText(chatID, fmt.Sprintf("Page %q added.", page.Name))
	default:
		b.sendText(chatID, "Send /new to start a project or /help for all commands.")
	}
}

func (b *Bot) handleCode(chatID int64, code string) {
	if !b.gate.Allow(code) {
		b.sendText(chatID, "That access code is not valid.")
		return
	}
	st := b.state.Get(chatID)
	st.Authorized = true
	b.state.Set(chatID, st)
	b.sendText(chatID, "Access granted. Send /new to start.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())
	sess := b.session(chatID)

	switch msg.Command() {
	case "start", "help":
		b.sendText(chatID, "Welcome to the print studio.\n\n"+helpText)
	case "new":
		b.startWizard(chatID)
	case "quick":
		b.state.Reset(chatID)
		p := b.projects.QuickStart(sess)
		b.sendText(chatID, fmt.Sprintf("Started %q. Use /addpage to add pages.", p.Plan.Title))
	case "plan":
		b.sendPlan(chatID, sess)
	case "pages":
		b.sendPages(chatID, sess)
	case "image", "regen":
		b.handleImage(ctx, chatID, sess, args, msg.Command() == "regen")
	case "all":
		b.handleGenerateAll(ctx, chatID, sess)
	case "more":
		b.sendText(chatID, "Thinking of new pages...")
		pages, err := b.generations.GenerateExtraPages(ctx, sess)
		if err != nil {
			b.sendError(chatID, err)
			return
		}
		names := make([]string, 0, len(pages))
		for _, p := range pages {
			names = append(names, p.Name)
		}
		b.sendText(chatID, "Added: "+strings.Join(names, ", "))
	case "concept":
		page, ok := b.pageArg(chatID, sess, args)
		if !ok {
			return
		}
		updated, err := b.generations.RegenerateConcept(ctx, sess, page.ID)
		if err != nil {
			b.sendError(chatID, err)
			return
		}
		b.sendText(chatID, fmt.Sprintf("%s\n%s\nPrompt: %s", updated.Name, updated.Description, updated.ImagePrompt))
	case "mode":
		b.handleMode(chatID, sess, args)
	case "addpage":
		if !sess.Active() {
			b.sendError(chatID, service.ErrNoActiveProject)
			return
		}
		st := b.state.Get(chatID)
		st.Step = StepPageName
		b.state.Set(chatID, st)
		b.sendText(chatID, "Send the page name.")
	case "delpage":
		page, ok := b.pageArg(chatID, sess, args)
		if !ok {
			return
		}
		if err := b.projects.DeletePage(sess, page.ID); err != nil {
			b.sendError(chatID, err)
			return
		}
		b.sendText(chatID, fmt.Sprintf("Page %q deleted.", page.Name))
	case "ideas":
		b.handleIdeas(ctx, chatID, sess, args)
	case "promote":
		n, err := strconv.Atoi(args)
		if err != nil || n < 1 {
			b.sendText(chatID, "Usage: /promote <idea number>")
			return
		}
		page, err := b.projects.PromoteIdea(sess, n-1)
		if err != nil {
			b.sendError(chatID, err)
			return
		}
		b.sendText(chatID, fmt.Sprintf("Page %q added.", page.Name))
	case "scenes":
		scenes := directive.SuggestScenes(4, rand.Perm)
		b.sendText(chatID, "Try one of these with /mockup <n> <scene>:\n- "+strings.Join(scenes, "\n- "))
	case "mockup":
		b.handleMockup(ctx, chatID, sess, args)
	case "projects":
		b.sendProjects(ctx, chatID)
	case "open":
		p, ok := b.projectArg(ctx, chatID, args)
		if !ok {
			return
		}
		if _, err := b.projects.LoadProject(ctx, sess, p.ID); err != nil {
			b.sendError(chatID, err)
			return
		}
		b.state.Reset(chatID)
		b.sendText(chatID, fmt.Sprintf("Opened %q.", p.Plan.Title))
	case "delete":
		p, ok := b.projectArg(ctx, chatID, args)
		if !ok {
			return
		}
		if err := b.projects.DeleteProject(ctx, p.ID); err != nil {
			b.sendError(chatID, err)
			return
		}
		b.sendText(chatID, fmt.Sprintf("Deleted %q.", p.Plan.Title))
	case "restart":
		b.projects.Restart(sess)
		b.state.Reset(chatID)
		b.sendText(chatID, "Project closed. Send /new to start again.")
	default:
		b.sendText(chatID, "Unknown command. Send /help.")
	}
}

func (b *Bot) startWizard(chatID int64) {
	b.state.Reset(chatID)
	st := b.state.Get(chatID)
	st.Step = StepProductType
	b.state.Set(chatID, st)

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(productTypes))
	for _, p := range productTypes {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(p, "product:"+p)))
	}
	msg := tgbotapi.NewMessage(chatID, "What are we making? Pick one or type your own.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) sendSizeKeyboard(chatID int64, text string) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(sizeOptions))
	for _, s := range sizeOptions {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(string(s), "size:"+string(s))))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("callback ack", "err", err)
	}
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	st := b.state.Get(chatID)
	if b.gate.Enabled() && !st.Authorized {
		return
	}
	kind, value, _ := strings.Cut(cb.Data, ":")
	switch {
	case kind == "product" && st.Step == StepProductType,
		kind == "size" && st.Step == StepSize:
		b.handleWizardAnswer(ctx, chatID, st, value)
	}
}

func (b *Bot) handleWizardAnswer(ctx context.Context, chatID int64, st ChatState, input string) {
	next, question, done := advanceWizard(st, input)
	b.state.Set(chatID, next)
	if !done {
		if next.Step == StepSize && question != "" {
			b.sendSizeKeyboard(chatID, question)
			return
		}
		b.sendText(chatID, question)
		return
	}

	sess := b.session(chatID)
	b.projects.SetWizard(sess, next.Wizard)
	b.sendText(chatID, "Drafting your plan, this can take a minute...")
	if _, err := b.generations.FinalizePlan(ctx, sess, next.Wizard); err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendPlan(chatID, sess)
	b.sendPages(chatID, sess)
}

func (b *Bot) sendPlan(chatID int64, sess *store.Session) {
	plan, err := sess.Plan()
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n%s\n", plan.Title, plan.Concept)
	if len(plan.ColorPalette) > 0 {
		fmt.Fprintf(&sb, "\nPalette: %s\n", strings.Join(plan.ColorPalette, ", "))
	}
	if len(plan.MonetizationStrategies) > 0 {
		sb.WriteString("\nMonetization:\n")
		for _, m := range plan.MonetizationStrategies {
			fmt.Fprintf(&sb, "- %s\n", m)
		}
	}
	fmt.Fprintf(&sb, "\nFormat: %s", sess.Wizard().SizeLabel())
	b.sendText(chatID, sb.String())
}

func (b *Bot) sendPages(chatID int64, sess *store.Session) {
	if !sess.Active() {
		b.sendError(chatID, service.ErrNoActiveProject)
		return
	}
	pages := sess.Pages()
	if len(pages) == 0 {
		b.sendText(chatID, "No pages yet. Use /addpage or /more.")
		return
	}
	var sb strings.Builder
	for i, p := range pages {
		fmt.Fprintf(&sb, "%d. %s [%s]", i+1, p.Name, p.ResolvedRenderMode())
		if p.IsCover {
			sb.WriteString(" cover")
		}
		switch a, ok := sess.Asset(p.ID); {
		case ok && a.Loading:
			sb.WriteString(" (generating)")
		case ok && a.Ready():
			sb.WriteString(" (image ready)")
		}
		sb.WriteString("\n")
	}
	b.sendText(chatID, sb.String())
}

// pageArg resolves a 1-based page number.
func (b *Bot) pageArg(chatID int64, sess *store.Session, args string) (models.Page, bool) {
	if !sess.Active() {
		b.sendError(chatID, service.ErrNoActiveProject)
		return models.Page{}, false
	}
	field, _, _ := strings.Cut(args, " ")
	n, err := strconv.Atoi(field)
	pages := sess.Pages()
	if err != nil || n < 1 || n > len(pages) {
		b.sendText(chatID, fmt.Sprintf("Give a page number between 1 and %d. See /pages.", len(pages)))
		return models.Page{}, false
	}
	return pages[n-1], true
}

func (b *Bot) handleImage(ctx context.Context, chatID int64, sess *store.Session, args string, force bool) {
	page, ok := b.pageArg(chatID, sess, args)
	if !ok {
		return
	}
	b.sendText(chatID, fmt.Sprintf("Generating %q...", page.Name))
	asset, err := b.generations.GeneratePageImage(ctx, sess, page.ID, force)
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendAsset(chatID, asset, page.Name)
}

func (b *Bot) handleGenerateAll(ctx context.Context, chatID int64, sess *store.Session) {
	b.sendText(chatID, "Generating every missing image...")
	outcomes, err := b.generations.GenerateAllPages(ctx, sess)
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			continue
		}
		name := o.PageID
		if p, ok := sess.Page(o.PageID); ok {
			name = p.Name
		}
		b.sendAsset(chatID, o.Asset, name)
	}
	b.sendText(chatID, fmt.Sprintf("Done: %d generated, %d failed.", len(outcomes)-failed, failed))
}

func (b *Bot) handleMode(chatID int64, sess *store.Session, args string) {
	page, ok := b.pageArg(chatID, sess, args)
	if !ok {
		return
	}
	_, rawMode, _ := strings.Cut(args, " ")
	mode, ok := models.ParseRenderMode(rawMode)
	if !ok || mode == models.RenderUnset {
		b.sendText(chatID, "Usage: /mode <n> <color|line_art>")
		return
	}
	if _, err := b.projects.SetRenderMode(sess, page.ID, mode); err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendText(chatID, fmt.Sprintf("Page %q will render as %s.", page.Name, mode))
}

func (b *Bot) handleIdeas(ctx context.Context, chatID int64, sess *store.Session, args string) {
	kind, notes, _ := strings.Cut(args, " ")
	req := service.IdeasRequest{Kind: models.IdeaKind(strings.ToLower(kind)), Instructions: notes}
	// stickers take an optional leading style word: /ideas sticker line_art cats
	if fields := strings.Fields(notes); req.Kind == models.IdeaSticker && len(fields) > 0 {
		if mode, ok := models.ParseRenderMode(fields[0]); ok && mode != models.RenderUnset {
			req.Style = mode
			req.Instructions = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(notes), fields[0]))
		}
	}
	ideas, err := b.generations.GenerateIdeas(ctx, sess, req)
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	if len(ideas) == 0 {
		b.sendText(chatID, "No ideas came back. Try again with different notes.")
		return
	}
	var sb strings.Builder
	for i, idea := range ideas {
		fmt.Fprintf(&sb, "%d. %s\n%s\n\n", i+1, idea.Title, idea.Prompt)
	}
	sb.WriteString("Use /promote <n> to add one as a page.")
	b.sendText(chatID, sb.String())
}

func (b *Bot) handleMockup(ctx context.Context, chatID int64, sess *store.Session, args string) {
	page, ok := b.pageArg(chatID, sess, args)
	if !ok {
		return
	}
	_, scene, _ := strings.Cut(args, " ")
	b.sendText(chatID, "Building the mockup...")
	asset, err := b.generations.GenerateMockup(ctx, sess, service.MockupRequest{SourceAssetID: page.ID, Scene: scene})
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendAsset(chatID, asset, asset.Prompt)
}

func (b *Bot) sendProjects(ctx context.Context, chatID int64) {
	projects, err := b.projects.ListProjects(ctx)
	if err != nil {
		b.log.Error("list projects", "err", err)
		b.sendError(chatID, err)
		return
	}
	if len(projects) == 0 {
		b.sendText(chatID, "No saved projects yet.")
		return
	}
	var sb strings.Builder
	for i, p := range projects {
		fmt.Fprintf(&sb, "%d. %s (%d pages, %d images)\n", i+1, p.Plan.Title, len(p.Pages), len(p.Assets))
	}
	b.sendText(chatID, sb.String())
}

func (b *Bot) projectArg(ctx context.Context, chatID int64, args string) (models.Project, bool) {
	projects, err := b.projects.ListProjects(ctx)
	if err != nil {
		b.sendError(chatID, err)
		return models.Project{}, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n < 1 || n > len(projects) {
		b.sendText(chatID, "Give a project number from /projects.")
		return models.Project{}, false
	}
	return projects[n-1], true
}

func (b *Bot) sendAsset(chatID int64, asset models.Asset, caption string) {
	img, err := provider.DecodeDataURL(asset.Payload)
	if err != nil {
		b.log.Error("decode asset payload", "err", err, "asset_type", string(asset.Type))
		b.sendText(chatID, "The image could not be delivered.")
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: asset.ID + ".png", Bytes: img.Bytes})
	photo.Caption = caption
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send image", "err", err)
	}
}

func (b *Bot) sendError(chatID int64, err error) {
	if !errors.Is(err, service.ErrSlotBusy) {
		b.log.Warn("telegram request failed", "err", err, "chat_id", chatID)
	}
	b.sendText(chatID, service.Notice(err))
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}
