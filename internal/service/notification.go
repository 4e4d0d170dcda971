package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/telebot.v3"

	"github.com/itisteddy/fan-club-z-sub008/internal/apperr"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

// Sender is the part of *telebot.Bot the notification service uses.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// NotificationConfig configures a NotificationService.
type NotificationConfig struct {
	Store         *storage.Store
	Sender        Sender
	AdminID       int64
	ChannelID     string
	ContestWindow time.Duration
	UnitsPerUSD   int64
	// ExplorerURL is formatted with a transaction hash, e.g. "https://explorer.solana.com/tx/%s".
	ExplorerURL string
}

// NotificationService sends Telegram messages for settlement events. It
// implements EventSink.
type NotificationService struct {
	cfg NotificationConfig
	mu  sync.Mutex
	wg  sync.WaitGroup
}

// NewNotificationService creates a new notification service
func NewNotificationService(cfg NotificationConfig) (*NotificationService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if cfg.UnitsPerUSD < 1 {
		cfg.UnitsPerUSD = 100
	}
	if cfg.ContestWindow <= 0 {
		cfg.ContestWindow = DefaultContestWindow
	}
	return &NotificationService{cfg: cfg}, nil
}

// NewTelegramSender creates a send-only telebot client for notifications
func NewTelegramSender(token string) (*telebot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}
	b, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return b, nil
}

// Emit handles the event in the background.
func (s *NotificationService) Emit(e Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handle(context.Background(), e)
	}()
}

// Wait blocks until every emitted event was handled
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

func (s *NotificationService) handle(ctx context.Context, e Event) {
	switch e.Type {
	case EventProposalCreated:
		s.publishProposal(ctx, e)
	case EventDisputeFiled:
		s.sendDisputeAlert(ctx, e)
		s.notifyDisputeToCreator(ctx, e)
	case EventDisputeResolved:
		s.publishResolution(ctx, e)
	case EventReconnectRequired:
		s.sendToUser(ctx, e.UserID, "🔌 Your wallet session expired. Reconnect your wallet and approve the settlement again.")
	case EventSettlementConfirmed:
		s.notifyParticipants(ctx, e)
		s.publishSettlement(ctx, e)
	case EventSettlementFailed:
		if e.ErrorKind == apperr.KindUserRejected {
			return
		}
		msg := fmt.Sprintf("⚠️ Settlement of %s failed\n\n%s", s.title(ctx, e.PredictionID), apperr.UserMessage(e.ErrorKind))
		if e.TxHash != "" {
			msg += "\nTransaction: " + s.txLink(e.TxHash)
		}
		s.sendToUser(ctx, e.UserID, msg)
	}
}

func (s *NotificationService) publishProposal(ctx context.Context, e Event) {
	prop, err := s.cfg.Store.GetProposal(ctx, e.ProposalID)
	if err != nil || prop == nil {
		logger.Debug(e.UserID, "notification_error", "error", "failed to get proposal", "proposal_id", e.ProposalID)
		return
	}
	message := fmt.Sprintf("🏁 *Outcome Proposed*\n\n%s\n\n✅ Outcome: *%s*\n📝 %s\n\n⏰ *Dispute window: %s*\nIf you disagree, use /dispute %s <reason>",
		escapeMarkdown(truncateString(s.title(ctx, e.PredictionID), 80)),
		escapeMarkdown(s.optionLabel(ctx, prop)),
		escapeMarkdown(truncateString(prop.Reason, 200)),
		escapeMarkdown(formatWindow(s.cfg.ContestWindow)),
		prop.ID)
	s.publish(message, "broadcast_proposal", e.PredictionID)
}

// sendDisputeAlert sends an alert to the admin when a dispute is raised
func (s *NotificationService) sendDisputeAlert(ctx context.Context, e Event) {
	if s.cfg.AdminID == 0 {
		logger.Debug(e.UserID, "dispute_alert_skipped", "reason", "admin id not set", "proposal_id", e.ProposalID)
		return
	}
	message := fmt.Sprintf("⚠️ Dispute Raised!\n\nPrediction: %s\nProposal: %s\nDisputed by user: %s\nReason: %s\n\nResolve with reject, revise or refund.",
		truncateString(s.title(ctx, e.PredictionID), 100),
		e.ProposalID,
		e.UserID,
		truncateString(e.Reason, 200))
	s.send(&telebot.User{ID: s.cfg.AdminID}, message, e.UserID, "dispute_alert_sent")
}

// notifyDisputeToCreator tells the creator their proposal was disputed
func (s *NotificationService) notifyDisputeToCreator(ctx context.Context, e Event) {
	pred, err := s.cfg.Store.GetPrediction(ctx, e.PredictionID)
	if err != nil || pred == nil {
		logger.Debug(e.UserID, "notification_error", "error", "failed to get prediction", "prediction_id", e.PredictionID)
		return
	}
	s.sendToUser(ctx, pred.CreatorID, fmt.Sprintf("⚠️ Your proposed outcome for '%s' has been disputed.\n\nReason: %s\n\nResolve it to continue settlement.",
		truncateString(pred.Title, 50),
		truncateString(e.Reason, 200)))
}

func (s *NotificationService) publishResolution(ctx context.Context, e Event) {
	var verdict string
	switch e.Action {
	case ActionReject:
		verdict = "Disputes rejected; the original outcome stands."
	case ActionRevise:
		prop, err := s.cfg.Store.GetProposal(ctx, e.ProposalID)
		if err != nil || prop == nil {
			verdict = "Outcome revised."
		} else {
			verdict = "Outcome revised to " + s.optionLabel(ctx, prop) + "."
		}
	case ActionRefund:
		verdict = "All stakes will be refunded."
	}
	message := fmt.Sprintf("⚖️ *Dispute Resolved*\n\n%s\n\n%s\n📝 %s",
		escapeMarkdown(truncateString(s.title(ctx, e.PredictionID), 80)),
		escapeMarkdown(verdict),
		escapeMarkdown(truncateString(e.Reason, 200)))
	s.publish(message, "broadcast_resolution", e.PredictionID)
}

// notifyParticipants tells every participant how the settlement affects them
func (s *NotificationService) notifyParticipants(ctx context.Context, e Event) {
	entries, err := s.cfg.Store.Entries(ctx, e.PredictionID)
	if err != nil {
		logger.Debug(e.UserID, "notification_error", "error", err.Error(), "prediction_id", e.PredictionID)
		return
	}
	payouts := s.payouts(ctx, e.PredictionID)
	title := truncateString(s.title(ctx, e.PredictionID), 50)

	// one message per user, however many entries they hold
	type summary struct {
		stake  int64
		status storage.EntryStatus
	}
	users := make(map[string]*summary)
	var order []string
	for _, entry := range entries {
		sum, ok := users[entry.UserID]
		if !ok {
			sum = &summary{status: entry.Status}
			users[entry.UserID] = sum
			order = append(order, entry.UserID)
		}
		sum.stake += entry.Stake
		if entry.Status == storage.EntryWon {
			sum.status = storage.EntryWon
		}
	}

	for _, userID := range order {
		sum := users[userID]
		var msg string
		switch {
		case e.Refund || sum.status == storage.EntryRefunded:
			msg = fmt.Sprintf("💰 Refund: %s will be returned for '%s'.", s.formatUnits(sum.stake), title)
		case sum.status == storage.EntryWon:
			amount := payouts[userID]
			msg = fmt.Sprintf("🏆 You won on '%s'\n\nYour stake: %s\nPayout: %s\nProfit: %s",
				title, s.formatUnits(sum.stake), s.formatUnits(amount), s.formatUnits(amount-sum.stake))
		default:
			msg = fmt.Sprintf("📉 Prediction settled: your stake of %s on '%s' did not win.", s.formatUnits(sum.stake), title)
		}
		msg += "\nTransaction: " + s.txLink(e.TxHash)
		s.sendToUser(ctx, userID, msg)
	}
}

func (s *NotificationService) publishSettlement(ctx context.Context, e Event) {
	payouts := s.payouts(ctx, e.PredictionID)
	var total int64
	for _, amount := range payouts {
		total += amount
	}
	headline := "💰 *Payouts Committed*"
	if e.Refund {
		headline = "💰 *Refund Committed*"
	}
	message := fmt.Sprintf("%s\n\n%s\n\n💸 %d recipients\n🏆 Total: %s\n🔗 %s",
		headline,
		escapeMarkdown(truncateString(s.title(ctx, e.PredictionID), 80)),
		len(payouts),
		escapeMarkdown(s.formatUnits(total)),
		escapeMarkdown(s.txLink(e.TxHash)))
	s.publish(message, "broadcast_settlement", e.PredictionID)
}

// payouts maps user ID to committed amount for the prediction's settlement
func (s *NotificationService) payouts(ctx context.Context, predictionID string) map[string]int64 {
	out := make(map[string]int64)
	rec, err := s.cfg.Store.SettlementRecord(ctx, predictionID)
	if err != nil || rec == nil || rec.CommitmentID == "" {
		return out
	}
	cr, err := s.cfg.Store.GetCommitment(ctx, rec.CommitmentID)
	if err != nil || cr == nil {
		return out
	}
	for _, leaf := range cr.Commitment.Leaves {
		out[leaf.UserID] += leaf.AmountUnits
	}
	return out
}

func (s *NotificationService) sendToUser(ctx context.Context, userID, message string) {
	user, err := s.cfg.Store.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		logger.Debug(userID, "notification_error", "error", "failed to get user")
		return
	}
	if user.TelegramID == 0 {
		logger.Debug(userID, "notification_skipped", "reason", "user has no telegram_id")
		return
	}
	s.send(&telebot.User{ID: user.TelegramID}, message, userID, "notification_sent")
}

func (s *NotificationService) send(to telebot.Recipient, message, userID, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.cfg.Sender.Send(to, message); err != nil {
		logger.Debug(userID, "notification_error", "error", err.Error(), "recipient", to.Recipient())
		return
	}
	logger.Debug(userID, action, "recipient", to.Recipient())
}

// publish broadcasts to the public channel when one is configured
func (s *NotificationService) publish(message, action, predictionID string) {
	if s.cfg.ChannelID == "" {
		logger.Debug("", "broadcast_skipped", "reason", "CHANNEL_ID not configured", "prediction_id", predictionID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.cfg.Sender.Send(s.getChannelRecipient(), message, &telebot.SendOptions{
		ParseMode: telebot.ModeMarkdown,
	})
	if err != nil {
		logger.Debug("", "broadcast_error", "channel", s.cfg.ChannelID, "error", err.Error())
		return
	}
	logger.Debug("", action, "prediction_id", predictionID, "channel", s.cfg.ChannelID)
}

func (s *NotificationService) title(ctx context.Context, predictionID string) string {
	pred, err := s.cfg.Store.GetPrediction(ctx, predictionID)
	if err != nil || pred == nil {
		return predictionID
	}
	return pred.Title
}

func (s *NotificationService) optionLabel(ctx context.Context, prop *storage.Proposal) string {
	if prop.Refund {
		return "Refund"
	}
	pred, err := s.cfg.Store.GetPrediction(ctx, prop.PredictionID)
	if err != nil || pred == nil {
		return prop.OptionID
	}
	for _, o := range pred.Options {
		if o.ID == prop.OptionID {
			return o.Label
		}
	}
	return prop.OptionID
}

// formatUnits renders minor units as USD for display only
func (s *NotificationService) formatUnits(units int64) string {
	return decimal.NewFromInt(units).DivRound(decimal.NewFromInt(s.cfg.UnitsPerUSD), 2).StringFixed(2) + " USD"
}

func (s *NotificationService) txLink(txHash string) string {
	if s.cfg.ExplorerURL == "" {
		return txHash
	}
	return fmt.Sprintf(s.cfg.ExplorerURL, txHash)
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}

// truncateString truncates a string to maxLen and adds ellipsis if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.TrimSpace(s[:maxLen-3]) + "..."
}

// getChannelRecipient returns the appropriate recipient for the configured channel
func (s *NotificationService) getChannelRecipient() telebot.Recipient {
	if strings.HasPrefix(s.cfg.ChannelID, "@") {
		return channelName(s.cfg.ChannelID)
	}
	return &telebot.Chat{ID: parseChannelID(s.cfg.ChannelID)}
}

// channelName addresses a public channel by its @username
type channelName string

func (c channelName) Recipient() string { return string(c) }

// parseChannelID parses a channel ID string (supports numeric IDs)
func parseChannelID(channelID string) int64 {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// escapeMarkdown escapes special characters for Telegram Markdown mode
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`,
		"(", `\(`, ")", `\)`, ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
		"=", `\=`, "|", `\|`, ".", `\.`, "!", `\!`,
	)
	return replacer.Replace(s)
}
