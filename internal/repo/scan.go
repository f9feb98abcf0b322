package repo

import (
	"fmt"
	"strings"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const profileColumns = `id, external_id, name, age, gender, interest, city, description, instagram, vk,
is_active, is_banned, ban_reason, is_hidden, is_verified,
subscription_status, subscription_expires_at,
daily_likes_used, daily_dislikes_used, last_limit_reset,
total_likes, likes_received, total_dislikes, referral_bonus_likes, super_like_credits,
referral_code, referred_by, created_at, updated_at`

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		p                          Profile
		gender, interest, subState string
	)
	err := row.Scan(
		&p.ID, &p.ExternalID, &p.Name, &p.Age, &gender, &interest, &p.City, &p.Description, &p.Instagram, &p.VK,
		&p.Active, &p.Banned, &p.BanReason, &p.Hidden, &p.Verified,
		&subState, &p.SubscriptionExpiresAt,
		&p.DailyLikesUsed, &p.DailyDislikesUsed, &p.LastLimitReset,
		&p.TotalLikes, &p.LikesReceived, &p.TotalDislikes, &p.ReferralBonusLikes, &p.SuperLikeCredits,
		&p.ReferralCode, &p.ReferredBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Gender = Gender(gender)
	p.Interest = Interest(interest)
	p.SubscriptionStatus = SubscriptionStatus(subState)
	return &p, nil
}

const interactionColumns = `id, source_id, target_id, kind, message, media_ref, is_mutual, created_at`

func scanInteraction(row rowScanner) (*Interaction, error) {
	var (
		in   Interaction
		kind string
	)
	if err := row.Scan(&in.ID, &in.SourceID, &in.TargetID, &kind, &in.Message, &in.MediaRef, &in.Mutual, &in.CreatedAt); err != nil {
		return nil, err
	}
	in.Kind = InteractionKind(kind)
	return &in, nil
}

const paymentColumns = `id, profile_id, kind, method, amount, currency, provider_ref, status, created_at, paid_at`

func scanPayment(row rowScanner) (*Payment, error) {
	var (
		p            Payment
		kind, status string
	)
	if err := row.Scan(&p.ID, &p.ProfileID, &kind, &p.Method, &p.Amount, &p.Currency, &p.ProviderRef, &status, &p.CreatedAt, &p.PaidAt); err != nil {
		return nil, err
	}
	p.Kind = PaymentKind(kind)
	p.Status = PaymentStatus(status)
	return &p, nil
}

// profileAssignments turns a partial update into column/value pairs.
func profileAssignments(u ProfileUpdate) ([]string, []any) {
	var (
		cols []string
		args []any
	)
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	if u.Name != nil {
		add("name", strings.TrimSpace(*u.Name))
	}
	if u.Age != nil {
		add("age", *u.Age)
	}
	if u.Gender != nil {
		add("gender", string(*u.Gender))
	}
	if u.Interest != nil {
		add("interest", string(*u.Interest))
	}
	if u.City != nil {
		add("city", strings.TrimSpace(*u.City))
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.Instagram != nil {
		add("instagram", strings.TrimPrefix(strings.TrimSpace(*u.Instagram), "@"))
	}
	if u.VK != nil {
		add("vk", strings.TrimSpace(*u.VK))
	}
	if u.Active != nil {
		add("is_active", *u.Active)
	}
	if u.Banned != nil {
		add("is_banned", *u.Banned)
	}
	if u.BanReason != nil {
		add("ban_reason", *u.BanReason)
	}
	if u.Hidden != nil {
		add("is_hidden", *u.Hidden)
	}
	if u.Verified != nil {
		add("is_verified", *u.Verified)
	}
	return cols, args
}

// buildSet renders "col = <placeholder>" pairs using ph for the n-th argument.
func buildSet(cols []string, ph func(n int) string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s = %s", col, ph(i+1))
	}
	return strings.Join(parts, ", ")
}

func kindStrings(kinds []InteractionKind) []string {
	if len(kinds) == 0 {
		kinds = []InteractionKind{KindLike, KindSuperLike, KindDislike}
	}
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
