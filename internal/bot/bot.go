package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/telebot.v3"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/service"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

const helpText = "📚 *Available Commands*\n\n" +
	"/start - Register and open the app\n" +
	"/status <prediction> - Show proposal, disputes and settlement progress\n" +
	"/dispute <proposal> <reason> - Contest a proposed outcome\n" +
	"/resolve <proposal> <reject|revise|refund> [option] <reason> - Respond to disputes (creator or arbiter)\n" +
	"/help - Show this help message"

// Config configures the Telegram bot.
type Config struct {
	Token       string
	WebAppURL   string
	Store       *storage.Store
	Disputes    *service.DisputeService
	Coordinator *service.Coordinator
	UnitsPerUSD int64
}

// Bot answers settlement commands over Telegram.
type Bot struct {
	cfg Config
	api *telebot.Bot
}

// New creates the bot and registers its commands. Start begins polling.
func New(cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}
	if cfg.Store == nil || cfg.Disputes == nil || cfg.Coordinator == nil {
		return nil, fmt.Errorf("store, dispute service and coordinator are required")
	}
	if cfg.UnitsPerUSD < 1 {
		cfg.UnitsPerUSD = 100
	}
	if cfg.WebAppURL == "" {
		cfg.WebAppURL = "http://localhost:8080"
	}

	api, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.Token,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{cfg: cfg, api: api}
	api.Handle("/start", b.handleStart)
	api.Handle("/help", b.handleHelp)
	api.Handle("/status", b.handleStatus)
	api.Handle("/dispute", b.handleDispute)
	api.Handle("/resolve", b.handleResolve)
	return b, nil
}

// API returns the underlying telebot client.
func (b *Bot) API() *telebot.Bot {
	return b.api
}

// Start polls for updates until Stop is called
func (b *Bot) Start() {
	logger.Info("", "bot_started", "username", b.api.Me.Username)
	b.api.Start()
}

// Stop stops polling
func (b *Bot) Stop() {
	b.api.Stop()
}

func (b *Bot) handleStart(c telebot.Context) error {
	user, err := b.ensureUser(c.Sender())
	if err != nil {
		return c.Send("Error retrieving user data. Please try again.")
	}

	btn := telebot.InlineButton{
		Text:   "🎯 Open Fan Club Z",
		WebApp: &telebot.WebApp{URL: b.cfg.WebAppURL},
	}
	logger.Debug(user.ID, "welcome_sent", "telegram_id", user.TelegramID)
	return c.Send(fmt.Sprintf("Welcome, %s! 🎉\n\nYou will be notified here when predictions you joined are proposed, disputed and settled.", user.FirstName),
		&telebot.ReplyMarkup{InlineKeyboard: [][]telebot.InlineButton{{btn}}})
}

func (b *Bot) handleHelp(c telebot.Context) error {
	return c.Send(helpText, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
}

func (b *Bot) handleStatus(c telebot.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Usage: /status <prediction_id>")
	}
	text, err := b.statusText(context.Background(), args[0])
	if err != nil {
		return c.Send(replyForError(err))
	}
	return c.Send(text)
}

func (b *Bot) handleDispute(c telebot.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return c.Send("Usage: /dispute <proposal_id> <reason>")
	}
	user, err := b.ensureUser(c.Sender())
	if err != nil {
		return c.Send("Error retrieving user data. Please try again.")
	}
	return c.Send(b.disputeReply(context.Background(), user.ID, args[0], strings.Join(args[1:], " ")))
}

func (b *Bot) handleResolve(c telebot.Context) error {
	args := c.Args()
	if len(args) < 3 {
		return c.Send("Usage: /resolve <proposal_id> <reject|revise|refund> [option] <reason>")
	}
	user, err := b.ensureUser(c.Sender())
	if err != nil {
		return c.Send("Error retrieving user data. Please try again.")
	}
	return c.Send(b.resolveReply(context.Background(), user.ID, args))
}

func (b *Bot) ensureUser(sender *telebot.User) (*storage.User, error) {
	user, err := b.cfg.Store.EnsureUser(context.Background(), sender.ID, sender.Username, sender.FirstName)
	if err != nil {
		logger.Warn("", "bot_user_failed", "telegram_id", sender.ID, "error", err)
		return nil, err
	}
	return user, nil
}

// statusText summarizes where a prediction is in the settlement flow.
func (b *Bot) statusText(ctx context.Context, predictionID string) (string, error) {
	const op = "bot.status"

	pred, err := b.cfg.Store.GetPrediction(ctx, predictionID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, err)
	}
	if pred == nil {
		return "", apperr.New(apperr.KindNotFound, op, "prediction %s not found", predictionID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %s\n\nStatus: %s\nPool: %s\nParticipants: %d\n", pred.Title, pred.Status, b.formatUnits(pred.PoolTotal), pred.ParticipantCount)

	prop, err := b.cfg.Store.LatestProposal(ctx, pred.ID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, err)
	}
	if prop == nil {
		sb.WriteString("\nNo outcome proposed yet.")
		return sb.String(), nil
	}
	disputes, err := b.cfg.Store.Disputes(ctx, prop.ID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, err)
	}

	outcome := "Refund"
	if !prop.Refund {
		outcome = optionLabel(pred, prop.OptionID)
	}
	fmt.Fprintf(&sb, "\n🏁 Proposal %s\nOutcome: %s\nState: %s\nDisputes: %d\n", prop.ID, outcome, prop.Status, len(disputes))
	if prop.Status.Open() {
		fmt.Fprintf(&sb, "Contest window ends: %s\n", b.cfg.Disputes.Policy().WindowEnd(prop).UTC().Format("2006-01-02 15:04 MST"))
	}

	rec, err := b.cfg.Coordinator.GetSettlementStatus(ctx, pred.ID)
	if err != nil {
		return "", err
	}
	if rec != nil {
		fmt.Fprintf(&sb, "\n⛓ Settlement: %s", rec.Status)
		if rec.TxHash != "" {
			fmt.Fprintf(&sb, "\nTransaction: %s", rec.TxHash)
		}
		if rec.Status == storage.SettlementFailed {
			fmt.Fprintf(&sb, "\n%s", apperr.UserMessage(apperr.Kind(rec.LastErrorKind)))
		}
	}
	return sb.String(), nil
}

func (b *Bot) disputeReply(ctx context.Context, userID, proposalID, reason string) string {
	d, err := b.cfg.Disputes.FileDispute(ctx, proposalID, userID, reason)
	if err != nil {
		logger.Debug(userID, "bot_dispute_failed", "proposal_id", proposalID, "error", err)
		return replyForError(err)
	}
	return fmt.Sprintf("⚠️ Dispute %s filed. The creator has been notified.", d.ID)
}

// resolveReply runs /resolve. args are proposal, action, then an option label
// or ID for revise, then the reason.
func (b *Bot) resolveReply(ctx context.Context, userID string, args []string) string {
	proposalID := args[0]
	action, err := service.ParseResolutionAction(args[1])
	if err != nil {
		return replyForError(err)
	}
	rest := args[2:]

	var optionID string
	if action == service.ActionRevise {
		if len(rest) < 2 {
			return "Usage: /resolve <proposal_id> revise <option> <reason>"
		}
		optionID, err = b.lookupOption(ctx, proposalID, rest[0])
		if err != nil {
			return replyForError(err)
		}
		rest = rest[1:]
	}

	prop, err := b.cfg.Disputes.ResolveDispute(ctx, proposalID, userID, action, strings.Join(rest, " "), optionID)
	if err != nil {
		logger.Debug(userID, "bot_resolve_failed", "proposal_id", proposalID, "action", string(action), "error", err)
		return replyForError(err)
	}
	if prop.ID != proposalID {
		return fmt.Sprintf("✅ Resolved with %s. Proposal %s will be settled.", action, prop.ID)
	}
	return fmt.Sprintf("✅ Disputes rejected. Proposal %s will be settled.", prop.ID)
}

func (b *Bot) lookupOption(ctx context.Context, proposalID, labelOrID string) (string, error) {
	const op = "bot.option"

	prop, err := b.cfg.Store.GetProposal(ctx, proposalID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, err)
	}
	if prop == nil {
		return "", apperr.New(apperr.KindNotFound, op, "proposal %s not found", proposalID)
	}
	pred, err := b.cfg.Store.GetPrediction(ctx, prop.PredictionID)
	if err != nil || pred == nil {
		return "", apperr.New(apperr.KindInternal, op, "prediction %s missing", prop.PredictionID)
	}
	for _, o := range pred.Options {
		if o.ID == labelOrID || strings.EqualFold(o.Label, labelOrID) {
			return o.ID, nil
		}
	}
	return "", apperr.New(apperr.KindValidation, op, "unknown option %q", labelOrID)
}

func (b *Bot) formatUnits(units int64) string {
	return decimal.NewFromInt(units).DivRound(decimal.NewFromInt(b.cfg.UnitsPerUSD), 2).StringFixed(2) + " USD"
}

func optionLabel(pred *storage.Prediction, optionID string) string {
	for _, o := range pred.Options {
		if o.ID == optionID {
			return o.Label
		}
	}
	return optionID
}

// replyForError turns an engine error into a chat reply.
func replyForError(err error) string {
	var aerr *apperr.Error
	if errors.As(err, &aerr) && aerr.Kind != apperr.KindInternal && aerr.Message != "" {
		return "❌ " + aerr.Message
	}
	return "❌ " + apperr.UserMessage(apperr.KindOf(err))
}
