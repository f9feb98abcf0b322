package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"matchbot/internal/matching"
	"matchbot/internal/metrics"
	"matchbot/internal/repo"
	"matchbot/internal/wa"
)

const processTimeout = 30 * time.Second

// Matcher is the part of the matching engine the chat flow drives.
type Matcher interface {
	Register(ctx context.Context, externalID, displayName, referralCode string) (*repo.Profile, bool, error)
	GetProfileByExternalID(ctx context.Context, externalID string) (*repo.Profile, error)
	GetProfile(ctx context.Context, id int64) (*repo.Profile, error)
	UpdateProfile(ctx context.Context, id int64, edit matching.ProfileEdit) (*repo.Profile, error)
	SetActive(ctx context.Context, id int64, active bool) (*repo.Profile, error)
	Next(ctx context.Context, viewerID int64) (*repo.Profile, error)
	Like(ctx context.Context, viewerID, targetID int64) (*matching.LikeResult, error)
	SuperLike(ctx context.Context, viewerID, targetID int64, payload matching.Payload) (*matching.LikeResult, error)
	Dislike(ctx context.Context, viewerID, targetID int64) (matching.DislikeResult, error)
	Boost(ctx context.Context, profileID int64) (*repo.Boost, error)
	Report(ctx context.Context, reporterID, targetID int64, reason repo.ComplaintReason, comment string) (*repo.Complaint, error)
	Stats(ctx context.Context, id int64) (*matching.Stats, error)
}

// Engine turns chat messages into matching actions.
type Engine struct {
	matcher  Matcher
	sender   Sender
	sessions Sessions
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New builds the conversation engine. sessions defaults to process memory.
func New(matcher Matcher, sender Sender, sessions Sessions, metricRegistry *metrics.Metrics, logger *slog.Logger) *Engine {
	if sessions == nil {
		sessions = NewMemorySessions()
	}
	return &Engine{
		matcher:  matcher,
		sender:   sender,
		sessions: sessions,
		metrics:  metricRegistry,
		logger:   logger.With("component", "convo"),
	}
}

// ProcessMessage implements wa.MessageProcessor.
func (e *Engine) ProcessMessage(ctx context.Context, in wa.Inbound) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	reply, err := e.Handle(ctx, in)
	if err != nil {
		e.logger.Error("failed handling message", "from", in.From, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo").Inc()
		}
		reply = "⚠️ Something went wrong, please try again in a moment."
	}
	if reply == "" {
		return
	}
	if err := e.sender.Send(ctx, in.From, reply); err != nil {
		e.logger.Warn("failed sending reply", "to", in.From, "error", err)
	}
}

// Handle processes one inbound message and returns the reply text. Errors are
// returned only for failures the user cannot act on.
func (e *Engine) Handle(ctx context.Context, in wa.Inbound) (string, error) {
	cmd, args := parseCommand(in.Text)

	if cmd == "start" {
		return e.start(ctx, in, args)
	}

	profile, err := e.matcher.GetProfileByExternalID(ctx, in.From)
	if errors.Is(err, matching.ErrNotFound) {
		return e.start(ctx, in, "")
	}
	if err != nil {
		return "", err
	}

	switch cmd {
	case "next", "browse":
		return e.showNext(ctx, profile, "")
	case "like", "❤️", "❤", "👍":
		return e.like(ctx, profile)
	case "dislike", "skip", "👎":
		return e.dislike(ctx, profile)
	case "super":
		return e.superLike(ctx, profile, args, in.MediaRef)
	case "boost":
		return e.boost(ctx, profile)
	case "pause":
		if _, err := e.matcher.SetActive(ctx, profile.ID, false); err != nil {
			return e.replyFor(err)
		}
		return "⏸ Your profile is hidden from others. Send \"resume\" to come back.", nil
	case "resume":
		if _, err := e.matcher.SetActive(ctx, profile.ID, true); err != nil {
			return e.replyFor(err)
		}
		return "▶️ Your profile is visible again.", nil
	case "stats":
		st, err := e.matcher.Stats(ctx, profile.ID)
		if err != nil {
			return e.replyFor(err)
		}
		return FormatStats(st), nil
	case "me", "profile":
		return FormatProfile(profile), nil
	case "report":
		return e.report(ctx, profile, args)
	case "set":
		return e.set(ctx, profile, args)
	case "help", "menu":
		return helpText, nil
	default:
		return "🤔 I did not get that. Send \"help\" to see what I can do.", nil
	}
}

func (e *Engine) start(ctx context.Context, in wa.Inbound, code string) (string, error) {
	profile, created, err := e.matcher.Register(ctx, in.From, in.Name, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return e.replyFor(err)
	}
	if !created {
		return "👋 Welcome back!\n\n" + helpText, nil
	}
	msg := "👋 Welcome to the dating bot!\n" +
		"Fill in your profile with \"set\", for example:\n" +
		"set name Alex\nset age 27\nset gender female\nset interest male\nset city Berlin\n\n" +
		"Your referral code: " + profile.ReferralCode + "\n\n" + helpText
	return msg, nil
}

func (e *Engine) showNext(ctx context.Context, viewer *repo.Profile, prefix string) (string, error) {
	candidate, err := e.matcher.Next(ctx, viewer.ID)
	if errors.Is(err, matching.ErrNoCandidate) {
		_ = e.sessions.Clear(ctx, viewer.ExternalID)
		return prefix + "😔 No more profiles right now. Try again later!", nil
	}
	if err != nil {
		return e.replyFor(err)
	}
	if err := e.sessions.SetCurrent(ctx, viewer.ExternalID, candidate.ID); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return prefix + FormatProfile(candidate) + "\n\n❤️ like · 👎 dislike · ⭐ super <message>", nil
}

func (e *Engine) current(ctx context.Context, viewer *repo.Profile) (int64, bool, error) {
	id, ok, err := e.sessions.Current(ctx, viewer.ExternalID)
	if err != nil {
		return 0, false, fmt.Errorf("load session: %w", err)
	}
	return id, ok, nil
}

func (e *Engine) like(ctx context.Context, viewer *repo.Profile) (string, error) {
	target, ok, err := e.current(ctx, viewer)
	if err != nil || !ok {
		return noCandidateText, err
	}
	res, err := e.matcher.Like(ctx, viewer.ID, target)
	if err != nil {
		return e.replyFor(err)
	}
	prefix := "❤️ Liked!\n\n"
	if res.Mutual {
		prefix = "💞 It's a match! Check your messages.\n\n"
	}
	return e.showNext(ctx, viewer, prefix)
}

func (e *Engine) dislike(ctx context.Context, viewer *repo.Profile) (string, error) {
	target, ok, err := e.current(ctx, viewer)
	if err != nil || !ok {
		return noCandidateText, err
	}
	if _, err := e.matcher.Dislike(ctx, viewer.ID, target); err != nil {
		return e.replyFor(err)
	}
	return e.showNext(ctx, viewer, "")
}

func (e *Engine) superLike(ctx context.Context, viewer *repo.Profile, message, mediaRef string) (string, error) {
	target, ok, err := e.current(ctx, viewer)
	if err != nil || !ok {
		return noCandidateText, err
	}
	if strings.TrimSpace(message) == "" && mediaRef == "" {
		return "⭐ Add a message: super <your message>, or send a photo with caption \"super\".", nil
	}
	res, err := e.matcher.SuperLike(ctx, viewer.ID, target, matching.Payload{Message: message, MediaRef: mediaRef})
	if err != nil {
		return e.replyFor(err)
	}
	prefix := "⭐ Super-like sent!\n\n"
	if res.Mutual {
		prefix = "💞 It's a match! Check your messages.\n\n"
	}
	return e.showNext(ctx, viewer, prefix)
}

func (e *Engine) boost(ctx context.Context, viewer *repo.Profile) (string, error) {
	b, err := e.matcher.Boost(ctx, viewer.ID)
	if errors.Is(err, matching.ErrAlreadyBoosted) && b != nil {
		return fmt.Sprintf("🚀 You are already boosted until %s UTC.", b.ExpiresAt.UTC().Format("2006-01-02 15:04")), nil
	}
	if err != nil {
		return e.replyFor(err)
	}
	return fmt.Sprintf("🚀 Boost active until %s UTC. You will be shown first!", b.ExpiresAt.UTC().Format("2006-01-02 15:04")), nil
}

func (e *Engine) report(ctx context.Context, viewer *repo.Profile, args string) (string, error) {
	target, ok, err := e.current(ctx, viewer)
	if err != nil || !ok {
		return noCandidateText, err
	}
	reasonWord, comment, _ := strings.Cut(strings.TrimSpace(args), " ")
	reason, known := reportReasons[strings.ToLower(reasonWord)]
	if !known {
		return "🚩 Usage: report <adult|selling|dislike|other> [comment]", nil
	}
	if _, err := e.matcher.Report(ctx, viewer.ID, target, reason, comment); err != nil {
		return e.replyFor(err)
	}
	return e.showNext(ctx, viewer, "🚩 Thanks, we will review this profile.\n\n")
}

var reportReasons = map[string]repo.ComplaintReason{
	"adult":         repo.ReasonAdultContent,
	"adult_content": repo.ReasonAdultContent,
	"selling":       repo.ReasonSelling,
	"spam":          repo.ReasonSelling,
	"dislike":       repo.ReasonDislike,
	"other":         repo.ReasonOther,
}

func (e *Engine) set(ctx context.Context, viewer *repo.Profile, args string) (string, error) {
	field, value, _ := strings.Cut(strings.TrimSpace(args), " ")
	value = strings.TrimSpace(value)
	if field == "" || value == "" {
		return setUsage, nil
	}

	var edit matching.ProfileEdit
	switch strings.ToLower(field) {
	case "name":
		edit.Name = &value
	case "age":
		age, err := strconv.Atoi(value)
		if err != nil {
			return "🎂 Age must be a number.", nil
		}
		edit.Age = &age
	case "gender":
		v := strings.ToLower(value)
		edit.Gender = &v
	case "interest":
		v := strings.ToLower(value)
		edit.Interest = &v
	case "city":
		edit.City = &value
	case "about", "description", "bio":
		edit.Description = &value
	case "instagram":
		v := strings.TrimPrefix(value, "@")
		edit.Instagram = &v
	case "vk":
		edit.VK = &value
	default:
		return setUsage, nil
	}

	updated, err := e.matcher.UpdateProfile(ctx, viewer.ID, edit)
	if err != nil {
		return e.replyFor(err)
	}
	return "✅ Saved.\n\n" + FormatProfile(updated), nil
}

// replyFor turns expected engine errors into user-facing text. Anything else
// is returned for logging.
func (e *Engine) replyFor(err error) (string, error) {
	var quota *matching.QuotaExceededError
	switch {
	case errors.As(err, &quota):
		if quota.Action == "like" {
			return fmt.Sprintf("⏳ You reached today's limit of %d likes. Come back tomorrow or get a subscription for unlimited likes.", quota.Limit), nil
		}
		return fmt.Sprintf("⏳ You reached today's limit of %d dislikes. Come back tomorrow.", quota.Limit), nil
	case errors.Is(err, matching.ErrDuplicateAction):
		return "ℹ️ You already liked this profile. Send \"next\" to continue.", nil
	case errors.Is(err, matching.ErrAlreadyBoosted):
		return "🚀 Your boost is already active.", nil
	case errors.Is(err, matching.ErrNoCandidate):
		return "😔 No more profiles right now. Try again later!", nil
	case errors.Is(err, matching.ErrNotFound):
		return "❓ Profile not found. Send \"next\" to continue.", nil
	case errors.Is(err, matching.ErrNoSuperLikeCredits):
		return "⭐ You have no super-likes left. Buy more to send one.", nil
	case errors.Is(err, matching.ErrSelfAction):
		return "🙃 That is your own profile.", nil
	case errors.Is(err, matching.ErrBusy):
		return "⏳ Still working on your previous action, one moment.", nil
	case errors.Is(err, matching.ErrInvalidInput):
		return "✏️ That value is not valid. " + setUsage, nil
	default:
		return "", err
	}
}

func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	word, rest, _ := strings.Cut(text, " ")
	word = strings.ToLower(strings.TrimPrefix(word, "/"))
	return word, strings.TrimSpace(rest)
}

const noCandidateText = "👀 Send \"next\" to see a profile first."

const setUsage = "Usage: set <name|age|gender|interest|city|about|instagram|vk> <value>\n" +
	"gender: male or female · interest: male, female or all · age: 18-100"

const helpText = "Commands:\n" +
	"next - show the next profile\n" +
	"like / dislike - decide on the shown profile\n" +
	"super <message> - send a super-like with a message\n" +
	"boost - show your profile first for 24 hours\n" +
	"stats - your likes and limits\n" +
	"me - view your profile\n" +
	"set <field> <value> - edit your profile\n" +
	"report <reason> - report the shown profile\n" +
	"pause / resume - hide or show your profile"
